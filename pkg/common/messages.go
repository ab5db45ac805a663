package common

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Global variable to control debug output
var VerboseMode bool = false

// logger is the shared logger used by every layer of the disc stack.
var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// SetVerboseMode enables or disables verbose/debug output
func SetVerboseMode(verbose bool) {
	VerboseMode = verbose
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetLogOutput redirects log output. Tests use it to capture messages.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLogFormat selects the "text" (default) or "json" formatter.
func SetLogFormat(format string) error {
	switch format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return FormatErrorString(ErrInvalidLogFormat, "%q", format)
	}
	return nil
}

// Logger returns the underlying logger for callers that need fields.
func Logger() *logrus.Logger {
	return logger
}

// Error messages
const (
	ErrFailedToOpenImage      = "failed to open disc image"
	ErrFailedToOpenSource     = "failed to open source file"
	ErrFailedToStatSource     = "failed to stat source file"
	ErrFailedToReadHeader     = "failed to read header"
	ErrFailedToReadBlock      = "failed to read block"
	ErrFailedToDecompress     = "failed to decompress block"
	ErrFailedToReadDirectory  = "failed to read directory"
	ErrFailedToOpenPartition  = "failed to open partition"
	ErrFailedToOpenTrack      = "failed to open track"
	ErrFailedToParseCuesheet  = "failed to parse GDI cuesheet"
	ErrFailedToParseCDI       = "failed to parse CDI header"
	ErrFailedToLoadConfig     = "failed to load config"
	ErrFailedToCreateOutput   = "failed to create output file"
	ErrFailedToWriteOutput    = "failed to write output file"
	ErrFailedToExportInfo     = "failed to export disc info"
	ErrUnsupportedImage       = "unsupported disc image"
	ErrInvalidSectorSize      = "invalid sector size"
	ErrInvalidBlockSize       = "invalid block size"
	ErrInvalidMagic           = "invalid magic"
	ErrInvalidLogFormat       = "invalid log format"
	ErrNoFilesystem           = "no ISO-9660 or XDVDFS filesystem found"
	ErrNotMultiTrack          = "disc image has no track table"
	ErrBootFileNotFound       = "boot executable not found"
	ErrInvalidExecutable      = "invalid PS-X EXE header"
	ErrUnsafeOutputPath       = "refusing to write outside output directory"
	ErrSystemCnfTooLarge      = "SYSTEM.CNF is too large"
	ErrDirectoryTooLarge      = "directory table is too large"
	ErrSourceNotMultipleOfSec = "source size is not a multiple of the sector size"
)

// Info messages
const (
	InfoImageOpened       = "Opened %s image: %s (%d bytes)"
	InfoFileExtracted     = "Extracted %s (%d bytes)"
	InfoDumpComplete      = "Extracted %d files to %s"
	InfoConfigLoaded      = "Loaded config from %s"
	InfoPartitionDetected = "Detected %s filesystem at offset 0x%X"
)

// Debug messages
const (
	DebugProbeFormat       = "Probing %s: %v"
	DebugTrackOpened       = "Track %02d opened: %s (LBA %d-%d, %d-byte sectors)"
	DebugTrackSkipped      = "Track %02d skipped: audio"
	DebugBlockCacheMiss    = "Block %d not cached, decoding %d bytes (%s)"
	DebugDirectoryLoaded   = "Loaded directory %q: %d bytes"
	DebugSectorSizeProbed  = "Sector size probe: %d bytes, mode %d"
	DebugIsoStartOffset    = "ISO start offset: %d (root directory at block %d)"
	DebugCisoHeader        = "%s header: version %d, block size %d, %d blocks"
	DebugSystemCnfEntry    = "SYSTEM.CNF %s=%s"
	DebugXdvdfsHeaderFound = "XDVDFS header found at partition offset 0x%X"
	DebugContainerDetected = "Container detected: %s (%s)"
)

// Warning messages
const (
	WarnTimezoneOutOfRange = "Timezone offset %d out of range, ignoring"
	WarnTrackOpenFailed    = "Could not open track %02d: %v"
	WarnSkippingEntry      = "Skipping %s: %v"
	WarnNoSystemCnf        = "SYSTEM.CNF not found, falling back to %s"
	WarnBootExecutable     = "Could not read boot executable %s: %v"
	WarnPreferredTrack     = "Preferred track %02d has no ISO-9660 filesystem: %v"
)

// LogInfo logs an informational message
func LogInfo(message string, args ...interface{}) {
	if len(args) > 0 {
		logger.Infof(message, args...)
	} else {
		logger.Info(message)
	}
}

// LogWarn logs a warning message
func LogWarn(message string, args ...interface{}) {
	if len(args) > 0 {
		logger.Warnf(message, args...)
	} else {
		logger.Warn(message)
	}
}

// LogError logs an error message
func LogError(message string, args ...interface{}) {
	if len(args) > 0 {
		logger.Errorf(message, args...)
	} else {
		logger.Error(message)
	}
}

// LogDebug logs a debug message (only if VerboseMode is enabled)
func LogDebug(message string, args ...interface{}) {
	if !VerboseMode {
		return
	}
	if len(args) > 0 {
		logger.Debugf(message, args...)
	} else {
		logger.Debug(message)
	}
}

// FormatError creates a formatted error with additional context
func FormatError(baseMessage string, details interface{}) error {
	if err, ok := details.(error); ok {
		return fmt.Errorf("%s: %w", baseMessage, err)
	}
	return fmt.Errorf("%s: %v", baseMessage, details)
}

// FormatErrorString creates a formatted error with string details
func FormatErrorString(baseMessage, details string, args ...interface{}) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: "+details, append([]interface{}{baseMessage}, args...)...)
	}
	return fmt.Errorf("%s: %s", baseMessage, details)
}
