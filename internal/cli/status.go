package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/store"
	"github.com/soyeahso/anonrelay/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and database counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			build := version.Current()
			fmt.Fprintf(out, "anonrelay %s (commit %s)\n\n", build.Version, build.ShortCommit())

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			if cfgErr != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", cfgErr)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:   not found (using defaults)")
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s metrics=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.MetricsEnabled())

			if cfg.Telegram.Enabled() {
				fmt.Fprintf(out, "Telegram: mode=%s bot=%s\n", cfg.Telegram.Mode, orDash(cfg.Telegram.BotUsername))
				if cfg.Telegram.Mode == "webhook" {
					fmt.Fprintf(out, "Webhook:  %s -> %s\n", cfg.Telegram.WebhookURL, cfg.Gateway.WebhookPath)
				}
			} else {
				fmt.Fprintln(out, "Telegram: (no token configured)")
			}

			fmt.Fprintf(out, "Relay:    operators=%d linkLength=%d stateTtl=%dm\n",
				len(cfg.Relay.Operators), cfg.Relay.LinkLength, cfg.Relay.StateTTLMinutes)

			dbPath := paths.DatabasePath(cfg.Store)
			if _, err := os.Stat(dbPath); err == nil {
				if err := printStats(cmd, dbPath); err != nil {
					fmt.Fprintf(out, "Store:    %s (error: %v)\n", dbPath, err)
				}
			} else {
				fmt.Fprintf(out, "Store:    %s (not created yet)\n", dbPath)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}

func printStats(cmd *cobra.Command, dbPath string) error {
	db, err := store.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	st, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Store:    %s users=%d operators=%d messages=%d unread=%d\n",
		dbPath, st.Users, st.Operators, st.Messages, st.Unread)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
