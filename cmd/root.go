// Package cmd provides command-line interface functionality for romdisc.
// romdisc inspects and extracts read-only disc images: ISO-9660 and raw CD
// images, PSP compressed containers, GameCube CISO, GD-ROM and DiscJuggler
// images, and Xbox XDVDFS partitions.
package cmd

import (
	"os"

	"github.com/hansbonini/romdisc/pkg"
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	useMmap    bool
	logFormat  string
	format     string
}

var (
	opts globalOptions
	// config is loaded before any command runs.
	config = common.DefaultConfig()
)

// rootCmd represents the base command when called without any subcommands.
// It provides the main entry point for the romdisc application.
var rootCmd = &cobra.Command{
	Use:   "romdisc",
	Short: "Inspect and extract disc images",
	Long: `romdisc - read-only access to console and PC disc images.

Currently supports:
  - ISO-9660 images with 2048, 2352 or 2448-byte sectors
  - PSP CISO, ZISO, JISO and DAX compressed images
  - GameCube CISO images
  - GD-ROM (.gdi) and DiscJuggler (.cdi) multi-track images
  - Xbox and Xbox 360 XDVDFS partitions
  - PlayStation 1 and 2 boot information (SYSTEM.CNF, PS-X EXE)

Examples:
  romdisc info game.cso
  romdisc ls game.gdi /
  romdisc cat game.bin SYSTEM.CNF
  romdisc dump game.iso ./output/
  romdisc tracks game.cdi

Use 'romdisc [command] --help' for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main() and serves as the entry point for command execution.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		common.LogError("%v", err)
		os.Exit(1)
	}
}

// bindGlobalFlags registers the persistent flags on fs.
func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $"+common.ConfigEnvVar+")")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	fs.BoolVar(&opts.useMmap, "mmap", false, "Memory-map image files instead of reading them")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	fs.StringVarP(&opts.format, "format", "f", "text", "Output format: text or yaml")
}

// loadConfig reads the config file, lets explicitly set flags override it
// and applies the logging settings.
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	if flags.Changed("mmap") {
		cfg.UseMmap = opts.useMmap
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("format") {
		cfg.OutputFormat = opts.format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Apply(); err != nil {
		return err
	}
	config = cfg
	return nil
}

// newProcessor creates the processor for the loaded config.
func newProcessor() *pkg.DiscProcessor {
	return pkg.NewDiscProcessor(config)
}

// init initializes the root command with flags and configuration settings.
func init() {
	bindGlobalFlags(rootCmd.PersistentFlags())
}
