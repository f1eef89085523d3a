package main

import (
	"fmt"
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley runs scripted conversations between LLM personas",
	Long: `Parley executes conversation templates: ordered steps in which cast roles
speak to each other, loop back until an exit condition holds and stop at the
end of the flow. Sessions can be driven from the terminal, over HTTP or as MCP tools.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("library", "", "Override the library directory")
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if dir, _ := cmd.Flags().GetString("library"); dir != "" {
		cfg.Library.Dir = dir
	}
	return cfg, nil
}

// loadStack builds the engine stack the command runs against.
func loadStack(cmd *cobra.Command) (*cli.Stack, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cli.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	st, err := cli.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing parley: %w", err)
	}
	return st, cfg, nil
}
