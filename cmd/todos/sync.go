package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/talking-todos/pkg/persist"
	"github.com/astromechza/talking-todos/pkg/store"
	"github.com/astromechza/talking-todos/pkg/syncer"
	"github.com/astromechza/talking-todos/pkg/todos"
)

func newSyncCmd(a *app) *cobra.Command {
	var quiet time.Duration
	var overHTTP bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange changes with the relay once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			z, err := a.synchronizer()
			if err != nil {
				return err
			}
			before := store.HeadsKey(a.store.Heads())
			if len(a.store.Heads()) == 0 {
				// a fresh copy takes the whole snapshot in one request
				latest, err := z.FetchLatest(cmd.Context())
				if err != nil {
					return err
				}
				if err := a.store.Merge(latest); err != nil {
					return err
				}
			}
			if overHTTP {
				err = z.Poll(cmd.Context())
			} else {
				err = z.SyncOnce(cmd.Context(), quiet)
			}
			if err != nil {
				return err
			}
			state := "up to date"
			if store.HeadsKey(a.store.Heads()) != before {
				state = "updated"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "synced with %s: %s\n", z.URL(), state)
			return nil
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 500*time.Millisecond, "disconnect once nothing was exchanged for this long")
	cmd.Flags().BoolVar(&overHTTP, "http", false, "sync with plain http requests instead of a websocket")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var saveEvery time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected to the relay, printing lists as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			z, err := a.synchronizer()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			z.OnStatus(func(s syncer.Status, err error) {
				if err != nil {
					_, _ = fmt.Fprintf(out, "%s: %v\n", s, err)
					return
				}
				_, _ = fmt.Fprintln(out, s)
			})
			lid := a.store.AddListener(func(c store.Change) {
				if c.Remote && (c.Touches(todos.ListsTable) || c.Touches(todos.TodosTable)) {
					printSummary(a, out)
				}
			})
			defer a.store.RemoveListener(lid)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, a, z, saveEvery)
		},
	}
	cmd.Flags().DurationVar(&saveEvery, "save-every", persist.DefaultSaveInterval, "how often local changes are written to disk")
	return cmd
}

func watch(ctx context.Context, a *app, z *syncer.Synchronizer, saveEvery time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return z.Run(gctx)
	})
	g.Go(func() error {
		return persist.AutoSave(gctx, a.store, a.persister, a.localID(), saveEvery)
	})
	err := g.Wait()
	slog.Debug("stopped watching", "err", err)
	return err
}

func printSummary(a *app, out io.Writer) {
	for _, l := range a.svc.Lists() {
		done, total, err := a.svc.Progress(l.ID)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(out, "  %s%s  (%d/%d)\n", emojiPrefix(l.Emoji), l.Name, done, total)
	}
}
