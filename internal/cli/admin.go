package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/store"
	"github.com/spf13/cobra"
)

const adminTimeLayout = "2006-01-02 15:04"

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect users and messages directly in the database",
	}

	cmd.AddCommand(newAdminUsersCmd())
	cmd.AddCommand(newAdminMessagesCmd())
	cmd.AddCommand(newAdminPromoteCmd())
	return cmd
}

// openAdmin opens the configured database for an offline admin command.
func openAdmin() (store.Admin, func(), error) {
	if cfgErr != nil {
		return store.Admin{}, nil, cfgErr
	}
	db, err := store.Open(paths.DatabasePath(cfg.Store), log)
	if err != nil {
		return store.Admin{}, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewAdmin(db), func() { db.Close() }, nil
}

func newAdminUsersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List registered users, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			users, err := admin.ListUsers(ctx, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHANDLE\tJOINED\tROLE")
			for _, u := range users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					u.ID, u.DisplayName, handle(u.Handle), u.JoinedAt.Local().Format(adminTimeLayout), role(u))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows (0 for all)")
	return cmd
}

func newAdminMessagesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List messages with both parties, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			msgs, err := admin.ListMessages(ctx, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSENT\tFROM\tTO\tREAD\tBODY")
			for _, m := range msgs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%v\t%s\n",
					m.ID, m.SentAt.Local().Format(adminTimeLayout),
					party(m.SenderID, m.SenderName), party(m.RecipientID, m.RecipientName),
					m.Read, summary(m.Body, m.MediaRef))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 for all)")
	return cmd
}

func newAdminPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <user-id>",
		Short: "Grant operator rights to a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := admin.Users.PromoteOperator(cmd.Context(), domain.UserID(id)); err != nil {
				return fmt.Errorf("promoting %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d is now an operator\n", id)
			return nil
		},
	}
}

func handle(h string) string {
	if h == "" {
		return "-"
	}
	return "@" + h
}

func role(u domain.User) string {
	if u.IsOperator {
		return "operator"
	}
	return "user"
}

func party(id domain.UserID, name string) string {
	if name == "" {
		return id.String()
	}
	return fmt.Sprintf("%s (%d)", name, id)
}

func summary(body, mediaRef string) string {
	s := []rune(body)
	if len(s) > 40 {
		body = string(s[:40]) + "..."
	}
	if mediaRef != "" {
		return "[photo] " + body
	}
	return body
}
