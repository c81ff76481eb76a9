// Package cli implements the anonrelay command line.
package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths     config.Paths
	cfg       config.Config
	cfgErr    error
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonrelay",
		Short: "anonrelay: anonymous message relay for Telegram",
		Long: "anonrelay hands every user a personal link. Anyone who opens the link can leave the owner\n" +
			"an anonymous message, and the owner can reply without learning who wrote.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			if err := config.LoadDotEnv(".env", filepath.Join(paths.Base, ".env")); err != nil {
				return err
			}

			// Config errors are reported by the commands that need a valid
			// config, so "config set" can still repair a broken file.
			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}

			opts := logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			log, logCloser, err = logging.Open(opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.anonrelay/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAdminCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadedConfig returns the validated config or the first reason it is unusable.
func loadedConfig() (config.Config, error) {
	if cfgErr != nil {
		return cfg, cfgErr
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}
