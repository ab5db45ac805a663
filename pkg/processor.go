// Package pkg opens disc images and exposes their filesystems.
// This file contains the processor used by the command line tools.
package pkg

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/spf13/afero"
)

// DiscProcessor implements the ImageProcessor interface. Every operation
// opens the image, works on it and closes it again.
type DiscProcessor struct {
	*DiscDecoder
	*DiscExporter
	cfg *common.Config
}

// NewDiscProcessor creates a processor working on the host filesystem.
func NewDiscProcessor(cfg *common.Config) *DiscProcessor {
	return NewDiscProcessorFs(afero.NewOsFs(), cfg)
}

// NewDiscProcessorFs creates a processor reading images from and writing
// output to fs.
func NewDiscProcessorFs(fs afero.Fs, cfg *common.Config) *DiscProcessor {
	if cfg == nil {
		cfg = common.DefaultConfig()
	}
	return &DiscProcessor{
		DiscDecoder:  NewDiscDecoderFs(fs, cfg),
		DiscExporter: NewDiscExporterFs(fs),
		cfg:          cfg,
	}
}

// withImage opens inputFile for the duration of fn.
func (p *DiscProcessor) withImage(inputFile string, fn func(img *Image) error) error {
	img, err := p.Open(inputFile)
	if err != nil {
		return err
	}
	defer img.Close()
	return fn(img)
}

// Info writes the image summary in the configured output format.
func (p *DiscProcessor) Info(inputFile string, writer io.Writer) error {
	return p.withImage(inputFile, func(img *Image) error {
		return p.ExportInfo(img, writer, p.cfg.OutputFormat)
	})
}

// Tracks writes the track table of a multi-track image.
func (p *DiscProcessor) Tracks(inputFile string, writer io.Writer) error {
	return p.withImage(inputFile, func(img *Image) error {
		return p.ExportTracks(img, writer, p.cfg.OutputFormat)
	})
}

// List writes the entries of a directory of the image.
func (p *DiscProcessor) List(inputFile, dir string, writer io.Writer) error {
	return p.withImage(inputFile, func(img *Image) error {
		return p.ExportListing(img, dir, writer)
	})
}

// Cat copies a file of the image to writer.
func (p *DiscProcessor) Cat(inputFile, path string, writer io.Writer) error {
	return p.withImage(inputFile, func(img *Image) error {
		_, err := p.ExportFile(img, path, writer)
		return err
	})
}

// Extract copies a file of the image to outputFile.
func (p *DiscProcessor) Extract(inputFile, path, outputFile string) error {
	return p.withImage(inputFile, func(img *Image) error {
		n, err := p.ExportFileTo(img, path, outputFile)
		if err != nil {
			return err
		}
		common.LogInfo(common.InfoFileExtracted, outputFile, n)
		return nil
	})
}

// Process dumps the whole filesystem of inputFile below outputDir.
func (p *DiscProcessor) Process(inputFile string, outputDir string) error {
	return p.withImage(inputFile, func(img *Image) error {
		_, err := p.ExportTree(img, outputDir)
		return err
	})
}
