package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	return run(context.Background(), newApp(), os.Args[1:], os.Stdout)
}

// run executes one command and then saves and closes whatever it opened, even when
// the command failed.
func run(ctx context.Context, a *app, args []string, out io.Writer) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close(context.Background()))
}

// skipStore marks commands that run without opening the local store.
const skipStore = "skip-store"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "todos",
		Short: "Local-first todo lists that sync through a relay",
		Long: `todos keeps todo lists in a local mergeable store. Edits work offline and merge
with every other copy of the store when synced through a relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			if cmd.Annotations[skipStore] != "" {
				return nil
			}
			return a.open(cmd.Context())
		},
	}
	a.bindFlags(root)

	root.AddCommand(
		newListsCmd(a),
		newNewListCmd(a),
		newRenameCmd(a),
		newShareCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newDoneCmd(a),
		newRmCmd(a),
		newClearCmd(a),
		newGenerateCmd(a),
		newTemplatesCmd(),
		newSyncCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newInspectCmd(a),
		newConfigCmd(a),
	)
	return root
}
