package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/talking-todos/pkg/auth"
	"github.com/astromechza/talking-todos/pkg/config"
	"github.com/astromechza/talking-todos/pkg/logging"
	"github.com/astromechza/talking-todos/pkg/persist"
	"github.com/astromechza/talking-todos/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to a yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on")
	dbVar := flag.String("db", "", "path to the sqlite database")
	levelVar := flag.String("log-level", "", "debug, info, warn or error")
	dumpVar := flag.String("dump", "", "directory to dump every store and its history into on shutdown")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags]\n       %s token -subject NAME [-ttl DURATION]\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadRelay(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	if *dbVar != "" {
		cfg.Database = *dbVar
	}
	if *levelVar != "" {
		cfg.Log.Level = *levelVar
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if flag.Arg(0) == "token" {
		return mintToken(cfg, flag.Args()[1:])
	}
	if flag.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flag.Args())
	}
	return serve(cfg, *dumpVar)
}

// mintToken prints a token for development clients.
func mintToken(cfg config.Relay, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subjectVar := fs.String("subject", "", "the user the token is for")
	ttlVar := fs.Duration("ttl", 24*time.Hour, "how long the token is valid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.Secret, cfg.Issuer)
	if err != nil {
		return err
	}
	tok, err := issuer.Mint(*subjectVar, *ttlVar)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func serve(cfg config.Relay, dumpDir string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("opening database", "path", cfg.Database, "driver", cfg.Driver)
	p, err := persist.Open(ctx, cfg.Driver, cfg.Database)
	if err != nil {
		return err
	}
	defer p.Close()

	verifier, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	if err != nil {
		return err
	}
	srv := relay.New(p, verifier, relay.Config{BackupInterval: cfg.BackupInterval})

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Backup(ctx)
	}()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()
	srv.Close()

	wg.Wait()

	if dumpDir != "" {
		if err := srv.Dump(dumpDir); err != nil {
			return fmt.Errorf("failed to dump stores: %w", err)
		}
	}
	return nil
}
