package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/querybot/querybot/internal/config"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "querybot",
	Short: "Telegram bot for guided record queries",
	Long: `querybot runs chat conversations that build and execute queries against
the configured collections, and forwards HTTP response notifications to a chat.

Configuration is read from $QUERYBOT_CONFIG (default /etc/querybot/config.yaml)
and QUERYBOT_* environment variables.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rules, err := cfg.Rules(notify.DefaultPredicates())
		if err != nil {
			return reportError(cmd, err)
		}
		if _, err := cfg.CommandArgs(); err != nil {
			return reportError(cmd, err)
		}
		defs, err := cfg.Definitions()
		if err != nil {
			return reportError(cmd, err)
		}

		out, err := cfg.YAML()
		if err != nil {
			return reportError(cmd, err)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n%s", cfg.Path(), out)
		successColor.Fprintf(w, "✓ configuration OK: %d collections, %d rules\n",
			len(defs), len(rules))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, reportError(cmd, err)
	}
	return cfg, nil
}

func reportError(cmd *cobra.Command, err error) error {
	errorColor.Fprintf(cmd.ErrOrStderr(), "✗ Error: %v\n", err)
	return err
}
