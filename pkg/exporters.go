// Package pkg opens disc images and exposes their filesystems.
// This file contains exporters writing disc metadata and contents out.
package pkg

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/multitrack"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by the exporters.
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

const listTimeLayout = "2006-01-02 15:04:05"

// DiscExporter implements the ImageExporter interface. Extracted files are
// written to fs.
type DiscExporter struct {
	fs afero.Fs
}

// NewDiscExporter creates an exporter writing to the host filesystem.
func NewDiscExporter() *DiscExporter {
	return NewDiscExporterFs(afero.NewOsFs())
}

// NewDiscExporterFs creates an exporter writing to fs.
func NewDiscExporterFs(fs afero.Fs) *DiscExporter {
	return &DiscExporter{fs: fs}
}

// ExportInfo writes the image summary as text or YAML.
func (e *DiscExporter) ExportInfo(img *Image, writer io.Writer, format string) error {
	info := img.Info()
	switch format {
	case FormatYAML:
		return e.encodeYAML(writer, info)
	case FormatText, "":
		if err := writeInfoText(writer, info); err != nil {
			return common.FormatError(common.ErrFailedToExportInfo, err)
		}
		return nil
	}
	return common.WrapErrno(common.ErrInvalid, "%s: unknown format %q", common.ErrFailedToExportInfo, format)
}

func (e *DiscExporter) encodeYAML(writer io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return common.FormatError(common.ErrFailedToExportInfo, err)
	}
	if err := enc.Close(); err != nil {
		return common.FormatError(common.ErrFailedToExportInfo, err)
	}
	return nil
}

// infoWriter prints aligned "label: value" lines and remembers the first
// write error.
type infoWriter struct {
	w   io.Writer
	err error
}

func (iw *infoWriter) field(label string, value interface{}) {
	if iw.err != nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	_, iw.err = fmt.Fprintf(iw.w, "%-18s %v\n", label+":", value)
}

func writeInfoText(w io.Writer, info *DiscInfo) error {
	iw := &infoWriter{w: w}
	iw.field("File", info.File)
	iw.field("Container", string(info.Container))
	iw.field("Size", fmt.Sprintf("%d bytes", info.Size))
	if info.BlockSize > 0 {
		iw.field("Block size", info.BlockSize)
	}
	iw.field("Filesystem", info.Filesystem)
	if info.DataTrack > 0 {
		iw.field("Data track", info.DataTrack)
	}
	if len(info.Tracks) > 0 {
		iw.field("Data tracks", len(info.Tracks))
	}

	if v := info.Volume; v != nil {
		if v.SectorSize != common.CDDataSize {
			iw.field("Sector format", fmt.Sprintf("%d bytes, mode %d", v.SectorSize, v.Mode))
		}
		iw.field("System ID", v.SystemID)
		iw.field("Volume ID", v.VolumeID)
		iw.field("Volume set", v.VolumeSetID)
		iw.field("Publisher", v.PublisherID)
		iw.field("Data preparer", v.DataPreparerID)
		iw.field("Application", v.ApplicationID)
		iw.field("Volume size", fmt.Sprintf("%d blocks", v.VolumeSpaceSize))
		if !v.CreationTime.IsZero() {
			iw.field("Created", v.CreationTime.UTC().Format(listTimeLayout))
		}
		if !v.ModificationTime.IsZero() {
			iw.field("Modified", v.ModificationTime.UTC().Format(listTimeLayout))
		}
	}

	if x := info.Xdvdfs; x != nil {
		iw.field("XDVDFS layout", x.Layout)
		iw.field("Partition offset", fmt.Sprintf("0x%X", x.Offset))
		iw.field("Root directory", fmt.Sprintf("sector %d, %d bytes", x.RootDirSector, x.RootDirSize))
		iw.field("Timestamp", x.Timestamp)
	}

	if ps := info.PlayStation; ps != nil {
		iw.field("Console", ps.Console.String())
		iw.field("Boot file", ps.BootFilename)
		iw.field("Boot argument", ps.BootArgument)
		if ps.StackOverride != 0 {
			iw.field("Stack override", fmt.Sprintf("0x%08X", ps.StackOverride))
		}
		if exe := ps.Executable; exe != nil {
			if h := exe.Header; h != nil {
				iw.field("Entry point", fmt.Sprintf("0x%08X", h.PC0))
				iw.field("Load address", fmt.Sprintf("0x%08X (%d bytes)", h.TextAddr, h.TextSize))
				iw.field("Stack", fmt.Sprintf("0x%08X", h.StackAddr))
				iw.field("Region", h.Region)
			} else {
				iw.field("Entry point", fmt.Sprintf("0x%08X", exe.Entry))
			}
		}
	}
	return iw.err
}

// ExportTracks writes the track table of a GD-ROM or DiscJuggler image.
func (e *DiscExporter) ExportTracks(img *Image, writer io.Writer, format string) error {
	if img.Tracks == nil {
		return common.WrapErrno(common.ErrInvalid, "%s: %s", common.ErrNotMultiTrack, img.Name)
	}
	tracks := img.Tracks.Tracks()
	if format == FormatYAML {
		return e.encodeYAML(writer, struct {
			TrackCount int                `yaml:"track_count"`
			Tracks     []multitrack.Track `yaml:"data_tracks"`
		}{img.Tracks.TrackCount(), tracks})
	}

	if _, err := fmt.Fprintf(writer, "%-5s %8s %8s %-8s %6s %6s  %s\n",
		"TRACK", "START", "END", "MSF", "SECTOR", "PREGAP", "FILE"); err != nil {
		return err
	}
	for _, t := range tracks {
		end := "-"
		if t.EndKnown {
			end = fmt.Sprint(t.BlockEnd)
		}
		if _, err := fmt.Fprintf(writer, "%-5d %8d %8s %-8s %6d %6d  %s\n",
			t.Number, t.BlockStart, end, t.MSF(), t.SectorSize, t.Pregap, t.Filename); err != nil {
			return err
		}
	}
	return nil
}

// ExportListing writes one line per entry of a directory.
func (e *DiscExporter) ExportListing(img *Image, dir string, writer io.Writer) error {
	fsys, err := img.FS()
	if err != nil {
		return err
	}
	entries, err := fsys.ReadDir(common.NormalizePath(dir))
	if err != nil {
		return common.FormatError(common.ErrFailedToReadDirectory, err)
	}
	for _, entry := range entries {
		kind, name := "-", entry.Name
		if entry.IsDir {
			kind, name = "d", name+"/"
		}
		mtime := strings.Repeat(" ", len(listTimeLayout))
		if !entry.ModTime.IsZero() {
			mtime = entry.ModTime.UTC().Format(listTimeLayout)
		}
		if _, err := fmt.Fprintf(writer, "%s %12d %s %s\n", kind, entry.Size, mtime, name); err != nil {
			return err
		}
	}
	return nil
}

// ExportFile copies one file of the filesystem to writer.
func (e *DiscExporter) ExportFile(img *Image, path string, writer io.Writer) (int64, error) {
	fsys, err := img.FS()
	if err != nil {
		return 0, err
	}
	f, err := fsys.Open(common.NormalizePath(path))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(writer, f)
}

// ExportTree extracts the whole filesystem below outputDir and returns the
// number of files written.
func (e *DiscExporter) ExportTree(img *Image, outputDir string) (int, error) {
	fsys, err := img.FS()
	if err != nil {
		return 0, err
	}
	if err := e.fs.MkdirAll(outputDir, 0o750); err != nil {
		return 0, common.FormatError(common.ErrFailedToCreateOutput, err)
	}

	count := 0
	if err := e.exportDir(fsys, "", outputDir, &count); err != nil {
		return count, err
	}
	common.LogInfo(common.InfoDumpComplete, count, outputDir)
	return count, nil
}

func (e *DiscExporter) exportDir(fsys Filesystem, dir, outputDir string, count *int) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return common.FormatError(common.ErrFailedToReadDirectory, err)
	}
	for _, entry := range entries {
		if entry.Name == "" || strings.ContainsRune(entry.Name, 0) {
			common.LogWarn(common.WarnSkippingEntry, fmt.Sprintf("%q", entry.Name), "invalid name")
			continue
		}
		p := path.Join(dir, entry.Name)
		target, err := safeJoin(outputDir, dir, entry.Name)
		if err != nil {
			return err
		}

		if entry.IsDir {
			if err := e.fs.MkdirAll(target, 0o750); err != nil {
				return common.FormatError(common.ErrFailedToCreateOutput, err)
			}
			if err := e.exportDir(fsys, p, outputDir, count); err != nil {
				return err
			}
			continue
		}
		if err := e.exportEntry(fsys, p, target, entry); err != nil {
			return err
		}
		*count++
	}
	return nil
}

func (e *DiscExporter) exportEntry(fsys Filesystem, p, target string, entry disc.DirEntry) error {
	f, err := fsys.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := e.create(target)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, f)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return common.FormatError(common.ErrFailedToWriteOutput, err)
	}
	if !entry.ModTime.IsZero() {
		_ = e.fs.Chtimes(target, entry.ModTime, entry.ModTime)
	}
	common.LogDebug(common.InfoFileExtracted, p, n)
	return nil
}

// create opens an output file for writing, creating its directory.
func (e *DiscExporter) create(name string) (afero.File, error) {
	if dir := filepath.Dir(name); dir != "." {
		if err := e.fs.MkdirAll(dir, 0o750); err != nil {
			return nil, common.FormatError(common.ErrFailedToCreateOutput, err)
		}
	}
	out, err := e.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToCreateOutput, err)
	}
	return out, nil
}

// ExportFileTo copies one file of the filesystem to outputFile.
func (e *DiscExporter) ExportFileTo(img *Image, path, outputFile string) (int64, error) {
	out, err := e.create(outputFile)
	if err != nil {
		return 0, err
	}
	n, err := e.ExportFile(img, path, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = common.FormatError(common.ErrFailedToWriteOutput, cerr)
	}
	return n, err
}

// safeJoin places an entry of dir below root. Names that would land
// outside root are refused.
func safeJoin(root, dir, name string) (string, error) {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", common.WrapErrno(common.ErrPermission, "%s: %q", common.ErrUnsafeOutputPath, path.Join(dir, name))
	}
	target := filepath.Join(root, filepath.FromSlash(dir), name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", common.WrapErrno(common.ErrPermission, "%s: %q", common.ErrUnsafeOutputPath, path.Join(dir, name))
	}
	return target, nil
}
