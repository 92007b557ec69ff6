// ABOUTME: users commands: ban, unban and the moderation audit log
// ABOUTME: Users are addressed by namespaced id, e.g. telegram:42

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-relay/internal/store"
)

var (
	banRemark string
	auditUser string
	auditMax  int
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage relay users",
}

var banCmd = &cobra.Command{
	Use:   "ban <user-id>",
	Short: "Stop answering a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBan(cmd, args[0], true)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban <user-id>",
	Short: "Resume answering a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBan(cmd, args[0], false)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent ban and unban actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db store.Store) error {
			return printAudit(ctx, cmd.OutOrStdout(), db, store.AuditFilter{TargetID: auditUser, Limit: auditMax})
		})
	},
}

func init() {
	banCmd.Flags().StringVar(&banRemark, "remark", "", "note stored with the ban")
	auditCmd.Flags().StringVar(&auditUser, "user", "", "only actions on this user")
	auditCmd.Flags().IntVar(&auditMax, "limit", 20, "maximum entries")
	usersCmd.AddCommand(banCmd, unbanCmd, auditCmd)
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, db store.Store) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func setBan(cmd *cobra.Command, userID string, banned bool) error {
	return withStore(cmd, func(ctx context.Context, db store.Store) error {
		return applyBan(ctx, cmd.OutOrStdout(), db, actor(), userID, banned, banRemark)
	})
}

// applyBan updates the user and records the action in the audit log.
func applyBan(ctx context.Context, w io.Writer, db store.Store, who, userID string, banned bool, remark string) error {
	action := store.AuditBanUser
	if !banned {
		action = store.AuditUnbanUser
		remark = ""
	}
	if err := db.SetUserBan(ctx, userID, banned, remark); err != nil {
		return fmt.Errorf("updating %s: %w", userID, err)
	}

	entry := &store.AuditEntry{Actor: who, Action: action, TargetID: userID}
	if remark != "" {
		entry.Detail = map[string]any{"remark": remark}
	}
	if err := db.AppendAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	fmt.Fprintf(w, "%s: %s\n", action, userID)
	return nil
}

func printAudit(ctx context.Context, w io.Writer, db store.Store, f store.AuditFilter) error {
	entries, err := db.ListAuditLog(ctx, f)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no entries")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-10s  %-24s  by %s", e.Timestamp.Local().Format(time.DateTime), e.Action, e.TargetID, e.Actor)
		if remark, ok := e.Detail["remark"].(string); ok {
			fmt.Fprintf(w, "  (%s)", remark)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
