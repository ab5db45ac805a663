// Package cmd provides command-line interface for disc image inspection.
// This file contains the info and tracks commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// infoCmd prints what an image is made of: its container, filesystem,
// volume descriptor and PlayStation boot information.
var infoCmd = &cobra.Command{
	Use:   "info [image]",
	Short: "Show the format and volume information of a disc image",
	Long: `Show the format and volume information of a disc image.

The output lists:
  - Container format (ISO, RAW, CISO, ZISO, JISO, DAX, GCN, GDI, CDI)
  - Disc size and block size
  - Filesystem (ISO-9660 or XDVDFS) and its volume descriptor
  - PlayStation console, boot file and PS-X EXE header

Example:
  romdisc info game.cso
  romdisc info --format yaml game.gdi`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newProcessor().Info(args[0], cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("failed to read disc image: %w", err)
		}
		return nil
	},
}

// tracksCmd prints the track table of a multi-track image.
var tracksCmd = &cobra.Command{
	Use:   "tracks [image]",
	Short: "List the data tracks of a GD-ROM or DiscJuggler image",
	Long: `List the data tracks of a GD-ROM (.gdi) or DiscJuggler (.cdi) image
with their LBA range, MSF address, sector size and pregap.

Audio tracks are counted but not listed.

Example:
  romdisc tracks game.gdi`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newProcessor().Tracks(args[0], cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("failed to read track table: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(tracksCmd)
}
