// Package cli wires the pipeline stages to cobra commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mrilaminar/internal/logger"
	"mrilaminar/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is loaded before any subcommand runs
	Config *config.Config
}

// config returns the loaded configuration, falling back to the defaults
// when the command runs without the root command.
func (o *RootOptions) config() *config.Config {
	if o.Config == nil {
		o.Config = config.DefaultConfig()
	}
	return o.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mrilaminar CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mrilaminar",
		Short: "Laminar analysis of MRI volumes",
		Long: `Build level sets from tissue probability maps, divide the domain between
two boundaries into equivolume layers, sample intensity profiles across the
layers and carry a surface mesh through every depth.`,
		SilenceErrors: true, // main reports the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.Output.Verbose = true
			}
			opts.Config = cfg
			logger.Setup(logger.Config{
				Verbose: cfg.Output.Verbose,
				JSON:    opts.Format == "json",
				Writer:  cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")

	// Add subcommands
	cmd.AddCommand(NewLevelsetCommand(opts))
	cmd.AddCommand(NewLayeringCommand(opts))
	cmd.AddCommand(NewSampleCommand(opts))
	cmd.AddCommand(NewMeshCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
