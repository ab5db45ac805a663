package iso

import (
	"errors"
	"testing"
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toRaw converts a cooked image to Mode 1 raw sectors.
func toRaw(cooked []byte, sectorSize int) []byte {
	blocks := len(cooked) / common.CDDataSize
	raw := make([]byte, blocks*sectorSize)
	for lba := 0; lba < blocks; lba++ {
		s := raw[lba*sectorSize:]
		copy(s, common.CDSyncPattern)
		m, sec, f := common.LBAToMSFParts(uint32(lba))
		s[12] = common.Uint8ToBCD(uint8(m))
		s[13] = common.Uint8ToBCD(uint8(sec))
		s[14] = common.Uint8ToBCD(uint8(f))
		s[15] = 1
		copy(s[common.CDMode1DataOffset:], cooked[lba*common.CDDataSize:(lba+1)*common.CDDataSize])
	}
	return raw
}

func TestNewVolume_SectorFormats(t *testing.T) {
	cooked := buildTestImage(t)

	testCases := []struct {
		name       string
		image      []byte
		sectorSize int
		mode       int
	}{
		{"cooked", cooked, 2048, 0},
		{"raw 2352", toRaw(cooked, 2352), 2352, 1},
		{"raw 2448", toRaw(cooked, 2448), 2448, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := NewVolume(disc.NewMemReader(tc.image))
			require.NoError(t, err)
			assert.Equal(t, tc.sectorSize, v.SectorSize)
			assert.Equal(t, tc.mode, v.Mode)
			assert.Equal(t, "PLAYSTATION", v.SystemID)
			assert.Equal(t, "TEST_VOLUME", v.VolumeID)
			assert.Equal(t, uint16(2048), v.LogicalBlockSize)
			assert.Equal(t, time.Date(1998, time.March, 14, 12, 30, 0, 0, time.UTC), v.CreationTime)
			assert.True(t, v.ExpirationTime.IsZero())

			p, err := v.OpenPartition()
			require.NoError(t, err)
			f, err := p.Open("DATA/SUB/DEEP.DAT")
			require.NoError(t, err)
			data, err := f.ReadAll()
			require.NoError(t, err)
			assert.Equal(t, "deep", string(data))
		})
	}
}

func TestNewVolume_NoFilesystem(t *testing.T) {
	_, err := NewVolume(disc.NewMemReader(make([]byte, 40*2352)))
	assert.True(t, errors.Is(err, common.ErrIO))

	_, err = NewVolume(nil)
	assert.True(t, errors.Is(err, common.ErrBadFile))
}

func TestVolumeTime(t *testing.T) {
	stamp := []byte("2001091011304512\x08")
	want := time.Date(2001, time.September, 10, 11, 30, 45, 120*int(time.Millisecond), time.UTC).Add(-2 * time.Hour)
	assert.Equal(t, want, volumeTime(stamp))

	assert.True(t, volumeTime(make([]byte, 17)).IsZero())
	assert.True(t, volumeTime([]byte("0000000000000000\x00")).IsZero())
}
