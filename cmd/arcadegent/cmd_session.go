package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/arcadegent/internal/state"
	"github.com/user/arcadegent/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)

		list, err := sessions.List(context.Background(), 0)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINTENT\tSUBAGENT\tTURNS\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.SessionID,
				s.Intent,
				s.ActiveSubagent,
				s.TurnCount,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)

		ctx := context.Background()
		id := types.SessionID(args[0])
		sess, err := sessions.Load(ctx, id)
		if err != nil {
			return err
		}
		turns, err := sessions.Turns(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("Session: %s  intent=%s  subagent=%s  turns=%d\n\n",
			sess.SessionID, sess.Intent, sess.ActiveSubagent, sess.TurnCount)
		for _, turn := range turns {
			label := string(turn.Role)
			if turn.Name != "" {
				label = label + "/" + turn.Name
			}
			fmt.Printf("[%s] %s\n", label, turn.Content)
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)

		id := types.SessionID(args[0])
		if err := sessions.Delete(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Session %s deleted.\n", id)
		return nil
	},
}
