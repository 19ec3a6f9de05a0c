package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/pocketbase/pocketbase"
	"github.com/spf13/cobra"
)

type queueClearer interface {
	ClearQueue(ctx context.Context, creatorID, actor string) ([]string, error)
}

func registerAdminCommands(app *pocketbase.PocketBase, queue queueClearer) {
	app.RootCmd.AddCommand(newClearQueueCommand(queue))
}

// newClearQueueCommand is the only path besides the admin API that empties a
// queue, and it always records who asked.
func newClearQueueCommand(queue queueClearer) *cobra.Command {
	var actor string

	command := &cobra.Command{
		Use:          "clear-queue <creatorId>",
		Short:        "Remove every fan from a creator's queue",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return errors.New("--actor is required")
			}

			removed, err := queue.ClearQueue(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries from %s\n", len(removed), args[0])
			return nil
		},
	}
	command.Flags().StringVar(&actor, "actor", "", "operator recorded in the audit log")

	return command
}
