// ABOUTME: history command: prints the reconstructed conversation chains of a session
// ABOUTME: Uses the same chain builder the relay uses to assemble gateway history

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/store"
)

var historySession int64

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the conversation chains of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db store.Store) error {
			return printHistory(ctx, cmd.OutOrStdout(), db, historySession)
		})
	},
}

func init() {
	historyCmd.Flags().Int64Var(&historySession, "session", 0, "session id")
	_ = historyCmd.MarkFlagRequired("session")
}

func printHistory(ctx context.Context, w io.Writer, db store.Store, sessionID int64) error {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("getting session %d: %w", sessionID, err)
	}

	chains, err := conversation.NewChainBuilder(db).Build(ctx, []int64{session.ID})
	if err != nil {
		return fmt.Errorf("building chains: %w", err)
	}

	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	cyan.Fprintf(w, "%s (%s/%s), %d chain(s)\n", session.Name, session.Factory, session.Model, len(chains))
	for i, chain := range chains {
		fmt.Fprintf(w, "\n--- chain %d ---\n", i+1)
		for _, turn := range chain {
			dim.Fprintf(w, "[%d] %s: ", turn.ID, turn.Role)
			if turn.Kind == store.ContentImage {
				fmt.Fprintf(w, "<image %s>\n", turn.Content)
				continue
			}
			fmt.Fprintln(w, turn.Content)
		}
	}
	return nil
}
