package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/talking-todos/pkg/auth"
	"github.com/astromechza/talking-todos/pkg/config"
	"github.com/astromechza/talking-todos/pkg/generate"
	"github.com/astromechza/talking-todos/pkg/logging"
	"github.com/astromechza/talking-todos/pkg/persist"
	"github.com/astromechza/talking-todos/pkg/store"
	"github.com/astromechza/talking-todos/pkg/syncer"
	"github.com/astromechza/talking-todos/pkg/todos"
)

// localStoreID names the offline copy when no store id is configured.
const localStoreID = "local"

var errNoToken = errors.New("no token configured: set token or jwt_secret in the config, or TODOS_TOKEN")

type app struct {
	configPath string
	serverURL  string
	storeID    string
	database   string
	logLevel   string

	cfg       config.Client
	logCloser io.Closer
	persister *persist.SQLPersister
	saver     *persist.Saver
	store     *store.Store
	svc       *todos.Service

	newGenerator func(ctx context.Context, cfg config.Client) (generate.Generator, error)
}

func newApp() *app {
	return &app{
		newGenerator: func(ctx context.Context, cfg config.Client) (generate.Generator, error) {
			return generate.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		},
	}
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to the config file")
	f.StringVar(&a.serverURL, "server", "", "relay url, overrides the config")
	f.StringVar(&a.storeID, "store", "", "store id, overrides the config")
	f.StringVar(&a.database, "db", "", "local database path, overrides the config")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
}

func (a *app) loadConfig() error {
	cfg, err := config.LoadClient(a.configPath)
	if err != nil {
		return err
	}
	a.applyFlags(&cfg)
	a.cfg = cfg
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	a.logCloser = closer
	return nil
}

func (a *app) applyFlags(cfg *config.Client) {
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	if a.storeID != "" {
		cfg.StoreID = a.storeID
	}
	if a.database != "" {
		cfg.Database = a.database
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
}

func (a *app) localID() string {
	if a.cfg.StoreID != "" {
		return a.cfg.StoreID
	}
	return localStoreID
}

// open loads the offline copy of the store.
func (a *app) open(ctx context.Context) error {
	p, err := persist.Open(ctx, persist.DriverPure, a.cfg.Database)
	if err != nil {
		return err
	}
	s, err := persist.LoadStore(ctx, p, a.localID())
	if err != nil {
		_ = p.Close()
		return err
	}
	a.persister = p
	a.store = s
	a.saver = persist.NewSaver(s, p, a.localID())
	a.svc = todos.NewService(s)
	slog.Debug("opened store", "store", a.localID(), "path", a.cfg.Database)
	return nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.saver != nil {
		if _, err := a.saver.SaveIfChanged(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to save store: %w", err))
		}
	}
	if a.persister != nil {
		errs = append(errs, a.persister.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

func (a *app) tokens() (auth.TokenSource, error) {
	if a.cfg.Secret != "" {
		issuer, err := auth.NewIssuer(a.cfg.Secret, "")
		if err != nil {
			return nil, err
		}
		owner, _, _ := strings.Cut(a.cfg.StoreID, ".")
		return auth.IssuerSource(issuer, owner, time.Hour), nil
	}
	if a.cfg.Token != "" {
		return auth.StaticSource(a.cfg.Token), nil
	}
	return nil, errNoToken
}

func (a *app) synchronizer() (*syncer.Synchronizer, error) {
	if a.cfg.StoreID == "" {
		return nil, syncer.ErrNoStore
	}
	tokens, err := a.tokens()
	if err != nil {
		return nil, err
	}
	return syncer.New(a.store, syncer.Config{
		ServerURL: a.cfg.ServerURL,
		StoreID:   a.cfg.StoreID,
		Tokens:    tokens,
	})
}

// resolveList accepts a list id or a case-insensitive list name.
func (a *app) resolveList(arg string) (todos.List, error) {
	if l, err := a.svc.GetList(arg); err == nil {
		return l, nil
	}
	var found []todos.List
	for _, l := range a.svc.Lists() {
		if strings.EqualFold(l.Name, arg) {
			found = append(found, l)
		}
	}
	switch len(found) {
	case 0:
		return todos.List{}, fmt.Errorf("%w: %s", todos.ErrListNotFound, arg)
	case 1:
		return found[0], nil
	}
	return todos.List{}, fmt.Errorf("%d lists are named %q, use the list id", len(found), arg)
}
