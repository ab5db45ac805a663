// Package cmd provides command-line interface for disc image filesystems.
// This file contains the ls and cat commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// lsCmd lists a directory of the filesystem inside an image.
var lsCmd = &cobra.Command{
	Use:   "ls [image] [directory]",
	Short: "List a directory of a disc image",
	Long: `List a directory of the ISO-9660 or XDVDFS filesystem inside a disc image.

Each line shows the entry type (d for directories), size in bytes,
modification time and name. The directory defaults to the root.

Example:
  romdisc ls game.iso
  romdisc ls game.gdi /DATA`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 1 {
			dir = args[1]
		}
		if err := newProcessor().List(args[0], dir, cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}
		return nil
	},
}

// catCmd copies one file out of an image.
var catCmd = &cobra.Command{
	Use:   "cat [image] [path] [output_file]",
	Short: "Print or extract a single file of a disc image",
	Long: `Print a file of a disc image to standard output, or write it to
output_file when given.

Example:
  romdisc cat game.bin SYSTEM.CNF
  romdisc cat game.cso PSP_GAME/PARAM.SFO param.sfo`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		processor := newProcessor()
		if len(args) == 3 {
			if err := processor.Extract(args[0], args[1], args[2]); err != nil {
				return fmt.Errorf("failed to extract %s: %w", args[1], err)
			}
			return nil
		}
		if err := processor.Cat(args[0], args[1], cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
}
