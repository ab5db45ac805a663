package pkg

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestProcessor(t *testing.T, files map[string][]byte, format string) (*DiscProcessor, afero.Fs) {
	t.Helper()
	fs := newTestFs(t, files)
	cfg := common.DefaultConfig()
	cfg.OutputFormat = format
	return NewDiscProcessorFs(fs, cfg), fs
}

func TestDiscProcessor_Info_Text(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.iso": psxImage()}, FormatText)

	var out bytes.Buffer
	require.NoError(t, p.Info("/img/game.iso", &out))

	text := out.String()
	for _, want := range []string{
		"Container:         ISO\n",
		"Filesystem:        ISO-9660\n",
		"System ID:         PLAYSTATION\n",
		"Volume ID:         SLES_000.01\n",
		"Console:           PS1\n",
		"Boot file:         SLES_000.01\n",
		"Entry point:       0x80010000\n",
		"Region:            " + testRegion + "\n",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "Sector format")
	assert.NotContains(t, text, "Publisher")
}

func TestDiscProcessor_Info_YAML(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.bin": rawSectors(psxImage(), 0)}, FormatYAML)

	var out bytes.Buffer
	require.NoError(t, p.Info("/img/game.bin", &out))

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "RAW", doc["container"])
	assert.Equal(t, "ISO-9660", doc["filesystem"])

	vol, ok := doc["volume"].(map[string]interface{})
	require.True(t, ok, "volume: %v", doc["volume"])
	assert.Equal(t, "PLAYSTATION", vol["system_id"])
	assert.Equal(t, common.CDSectorSize, vol["sector_size"])
	assert.Equal(t, 1, vol["mode"])

	ps, ok := doc["playstation"].(map[string]interface{})
	require.True(t, ok, "playstation: %v", doc["playstation"])
	assert.Equal(t, "PS1", ps["console"])
	exe, ok := ps["boot_executable"].(map[string]interface{})
	require.True(t, ok)
	header, ok := exe["psx_exe"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testPC0, header["pc0"])
}

func TestDiscProcessor_Info_UnknownFormat(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.iso": psxImage()}, "xml")
	err := p.Info("/img/game.iso", &bytes.Buffer{})
	assert.True(t, errors.Is(err, common.ErrInvalid), "%v", err)
}

func TestDiscProcessor_List(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.iso": psxImage()}, FormatText)

	var out bytes.Buffer
	require.NoError(t, p.List("/img/game.iso", "/", &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	var names []string
	for _, line := range lines {
		fields := strings.Fields(line)
		names = append(names, fields[0]+" "+fields[len(fields)-1])
	}
	assert.ElementsMatch(t, []string{"d DATA/", "d EMPTY/", "- SLES_000.01", "- SYSTEM.CNF"}, names)

	out.Reset()
	require.NoError(t, p.List("/img/game.iso", "data", &out))
	assert.Contains(t, out.String(), " 5 1998-03-14 12:30:00 A.BIN\n")

	err := p.List("/img/game.iso", "NOPE", &out)
	assert.True(t, errors.Is(err, common.ErrNotFound), "%v", err)
}

func TestDiscProcessor_Cat(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.cso": cisoImage(psxImage())}, FormatText)

	var out bytes.Buffer
	require.NoError(t, p.Cat("/img/game.cso", `\SLES_000.01`, &out))
	assert.Equal(t, psxExe(), out.Bytes())

	out.Reset()
	require.NoError(t, p.Cat("/img/game.cso", "data/a.bin", &out))
	assert.Equal(t, "hello", out.String())

	err := p.Cat("/img/game.cso", "MISSING.BIN", &out)
	assert.True(t, errors.Is(err, common.ErrNotFound), "%v", err)
}

func TestDiscProcessor_Extract(t *testing.T) {
	p, fs := newTestProcessor(t, map[string][]byte{"game.iso": psxImage()}, FormatText)

	require.NoError(t, p.Extract("/img/game.iso", "SYSTEM.CNF", "/out/cnf/system.cnf"))
	data, err := afero.ReadFile(fs, "/out/cnf/system.cnf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "BOOT = cdrom:"))
}

func TestDiscProcessor_Process(t *testing.T) {
	testCases := []struct {
		name  string
		file  string
		data  []byte
		files map[string]string
		dirs  []string
	}{
		{
			name:  "playstation",
			file:  "game.iso",
			data:  psxImage(),
			files: map[string]string{"DATA/A.BIN": "hello", "SLES_000.01": string(psxExe())},
			dirs:  []string{"EMPTY"},
		},
		{
			name:  "xbox",
			file:  "game.xiso",
			data:  xisoImage(),
			files: map[string]string{"DEFAULT.XBE": "XBEH"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, fs := newTestProcessor(t, map[string][]byte{tc.file: tc.data}, FormatText)
			require.NoError(t, p.Process("/img/"+tc.file, "/out"))

			for name, want := range tc.files {
				data, err := afero.ReadFile(fs, "/out/"+name)
				require.NoError(t, err, name)
				assert.Equal(t, want, string(data), name)
			}
			for _, dir := range tc.dirs {
				ok, err := afero.DirExists(fs, "/out/"+dir)
				require.NoError(t, err)
				assert.True(t, ok, dir)
			}
		})
	}
}

func TestDiscProcessor_Process_NoFilesystem(t *testing.T) {
	p, fs := newTestProcessor(t, map[string][]byte{"game.ciso": gcnImage()}, FormatText)
	err := p.Process("/img/game.ciso", "/out")
	assert.True(t, errors.Is(err, common.ErrNotFound), "%v", err)

	ok, _ := afero.DirExists(fs, "/out")
	assert.False(t, ok)
}

func TestDiscProcessor_Tracks(t *testing.T) {
	p, _ := newTestProcessor(t, gdiFiles(), FormatText)

	var out bytes.Buffer
	require.NoError(t, p.Tracks("/img/disc.gdi", &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TRACK"))

	// Track 1 was never opened, so its end is unknown.
	assert.Equal(t, []string{"1", "0", "-", "00:02:00", "2048", "0", "track01.iso"}, strings.Fields(lines[1]))
	fields := strings.Fields(lines[2])
	assert.Equal(t, []string{"3", "45000"}, fields[:2])
	assert.Equal(t, "10:02:00", fields[3])

	err := p.Tracks("/img/missing.gdi", &out)
	assert.Error(t, err)
}

func TestDiscProcessor_Tracks_YAML(t *testing.T) {
	p, _ := newTestProcessor(t, gdiFiles(), FormatYAML)

	var out bytes.Buffer
	require.NoError(t, p.Tracks("/img/disc.gdi", &out))

	var doc struct {
		TrackCount int `yaml:"track_count"`
		Tracks     []struct {
			Number     int    `yaml:"number"`
			BlockStart uint32 `yaml:"lba_start"`
			SectorSize int    `yaml:"sector_size"`
		} `yaml:"data_tracks"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, 3, doc.TrackCount)
	require.Len(t, doc.Tracks, 2)
	assert.Equal(t, 3, doc.Tracks[1].Number)
	assert.Equal(t, uint32(45000), doc.Tracks[1].BlockStart)
	assert.Equal(t, common.CDSectorSize, doc.Tracks[1].SectorSize)
}

func TestDiscProcessor_Tracks_SingleTrack(t *testing.T) {
	p, _ := newTestProcessor(t, map[string][]byte{"game.iso": psxImage()}, FormatText)
	err := p.Tracks("/img/game.iso", &bytes.Buffer{})
	assert.True(t, errors.Is(err, common.ErrInvalid), "%v", err)
}

func TestSafeJoin(t *testing.T) {
	testCases := []struct {
		dir, name string
		want      string
		ok        bool
	}{
		{"", "FILE.BIN", "/out/FILE.BIN", true},
		{"A/B", "C.BIN", "/out/A/B/C.BIN", true},
		{"", "..", "", false},
		{"A", ".", "", false},
		{"", "../escape", "", false},
		{"", `..\escape`, "", false},
		{"../..", "X", "", false},
	}
	for _, tc := range testCases {
		got, err := safeJoin("/out", tc.dir, tc.name)
		if !tc.ok {
			assert.True(t, errors.Is(err, common.ErrPermission), "%s/%s: %v", tc.dir, tc.name, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
