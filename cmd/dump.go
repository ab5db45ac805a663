// Package cmd provides command-line interface for disc image extraction.
// This file contains the command dumping every file of a disc image.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// dumpCmd extracts the whole filesystem of a disc image.
// It walks the ISO-9660 or XDVDFS directory tree and writes every file
// below the output directory, keeping the directory structure.
var dumpCmd = &cobra.Command{
	Use:   "dump [image] [output_directory]",
	Short: "Extract all files from a disc image",
	Long: `Extract all files from a disc image.

This command opens the image, detects its container and filesystem and
extracts every file. Entries whose names would escape the output
directory are refused. When verbose mode is enabled (-v), every extracted
file is logged with its size.

Output:
  - Extracted files keep the original directory structure
  - File modification times are set from the directory records

Example:
  romdisc dump game.iso ./output/
  romdisc dump -v game.gdi ./output/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputFile := args[0]
		outputDir := args[1]

		fmt.Fprintf(cmd.OutOrStdout(), "Processing disc image: %s\n", inputFile)
		fmt.Fprintf(cmd.OutOrStdout(), "Output directory: %s\n", outputDir)

		if err := newProcessor().Process(inputFile, outputDir); err != nil {
			return fmt.Errorf("failed to process disc image: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Disc image processed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
