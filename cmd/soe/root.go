package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/cli"
	"datum-hq/soe/pkg/config"
	"datum-hq/soe/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	logLevel     string
	userID       string
)

var rootCmd = &cobra.Command{
	Use:   "soe",
	Short: "Compliance rule evaluation and plan governance",
	Long: `soe evaluates declarative compliance rule packs against a project, resolves
layered compliance profiles, derives manufacturing plans from the resulting
decisions, and governs plan edits and approvals with a full audit trail.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command and exits with the mapped status.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and SOE_* environment when empty)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "acting user recorded in audit events")
}

// setup loads configuration and installs the logger before any subcommand
// runs.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetConfig()
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	if _, err := cli.ParseFormat(outputFormat); err != nil {
		return err
	}

	_, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Writer:    cmd.ErrOrStderr(),
	})
	return err
}
