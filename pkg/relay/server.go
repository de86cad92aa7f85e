// Package relay is the server peer: it holds the authoritative copy of every store,
// syncs it with connected clients and backs it up to sqlite.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/talking-todos/pkg/auth"
	"github.com/astromechza/talking-todos/pkg/persist"
	"github.com/astromechza/talking-todos/pkg/syncer"
	"github.com/astromechza/talking-todos/pkg/viz"
)

const maxPollBody = 32 << 20

type Config struct {
	BackupInterval time.Duration
	Sync           syncer.Options
	// CheckOrigin is passed to the websocket upgrader. Nil allows any origin, since
	// clients authenticate with a bearer token rather than cookies.
	CheckOrigin func(r *http.Request) bool
}

type Server struct {
	// ctx ends every open sync session when the server is closed; hijacked
	// websocket connections outlive http.Server.Close.
	ctx    context.Context
	cancel context.CancelFunc

	cfg      Config
	verifier *auth.Verifier
	registry *registry
	upgrader websocket.Upgrader
}

func New(p persist.Persister, v *auth.Verifier, cfg Config) *Server {
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = 5 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		verifier: v,
		registry: newRegistry(p),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	stores := r.PathPrefix("/stores/{store}").Subrouter()
	stores.Use(s.authenticate)
	stores.Methods(http.MethodGet).Path("/latest").HandlerFunc(s.getStore)
	stores.Methods(http.MethodGet).Path("/sync").HandlerFunc(s.syncStore)
	stores.Methods(http.MethodPost).Path("/sync").HandlerFunc(s.pollStore)
	stores.Methods(http.MethodGet).Path("/history.svg").HandlerFunc(s.getHistory)
	return r
}

// logRequests logs every request once it is handled.
func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		token, ok := auth.BearerToken(request.Header.Get("Authorization"))
		if !ok {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			slog.Info("rejected token", "err", err)
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !auth.Owns(claims.Subject, mux.Vars(request)["store"]) {
			writer.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func (s *Server) getStore(writer http.ResponseWriter, request *http.Request) {
	st, err := s.registry.get(request.Context(), mux.Vars(request)["store"])
	if err != nil {
		slog.Error("failed to load store", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	fork, err := st.Fork()
	if err != nil {
		slog.Error("failed to fork", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(fork.Save()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getHistory(writer http.ResponseWriter, request *http.Request) {
	st, err := s.registry.get(request.Context(), mux.Vars(request)["store"])
	if err != nil {
		slog.Error("failed to load store", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	var buff bytes.Buffer
	if err := viz.RenderToSVG(st, &buff); err != nil {
		slog.Error("failed to render", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "image/svg+xml")
	if _, err := writer.Write(buff.Bytes()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) syncStore(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["store"]
	st, err := s.registry.get(request.Context(), id)
	if err != nil {
		slog.Error("failed to load store", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	if err := syncer.Sync(ctx, conn, st, s.cfg.Sync); err != nil {
		if errors.Is(err, syncer.ErrPeerClosed) {
			slog.Info("client disconnected", "store", id)
			return
		}
		slog.Error("failed to sync", "store", id, "err", err)
	}
}

// pollStore answers one round of the request/response sync used by clients that
// cannot hold a websocket open.
func (s *Server) pollStore(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["store"]
	var in syncer.PollRequest
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxPollBody)).Decode(&in); err != nil {
		slog.Info("failed to decode body", "store", id, "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	st, err := s.registry.get(request.Context(), id)
	if err != nil {
		slog.Error("failed to load store", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	out, err := syncer.Answer(st, in)
	if err != nil {
		slog.Info("rejected sync round", "store", id, "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(out); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// Close ends all open sync sessions.
func (s *Server) Close() {
	s.cancel()
}

// Backup saves changed stores every BackupInterval until ctx ends, then once more.
func (s *Server) Backup(ctx context.Context) {
	t := time.NewTicker(s.cfg.BackupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.registry.backup(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.registry.backup(flushCtx)
			return
		}
	}
}

// Dump writes every loaded store and its rendered history into dir.
func (s *Server) Dump(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for id, e := range s.registry.snapshot() {
		path := filepath.Join(dir, id+".automerge")
		if err := os.WriteFile(path, e.store.Save(), 0o644); err != nil {
			return fmt.Errorf("failed to dump %s: %w", id, err)
		}
		slog.Info("dumped", "store", id, "path", path)

		svgPath := filepath.Join(dir, id+".svg")
		f, err := os.Create(svgPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", svgPath, err)
		}
		err = viz.RenderToSVG(e.store, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", id, err)
		}
		slog.Info("rendered", "store", id, "path", "file://"+svgPath)
	}
	return nil
}
