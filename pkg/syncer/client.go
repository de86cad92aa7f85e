package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/talking-todos/pkg/auth"
	"github.com/astromechza/talking-todos/pkg/store"
)

var (
	ErrBadScheme    = errors.New("server url must use http, https, ws or wss")
	ErrNoStore      = errors.New("store id is required")
	ErrUnauthorized = errors.New("server rejected the token")
	ErrForbidden    = errors.New("token does not grant access to this store")
	ErrNotFound     = errors.New("store not found on server")
)

type Status int

const (
	Connecting Status = iota
	Connected
	Disconnected
	Stopped
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type StatusListener func(status Status, err error)

// BuildURL returns the websocket sync endpoint of storeID on the server at base.
func BuildURL(base, storeID string) (*url.URL, error) {
	if storeID == "" || storeID == "." || storeID == ".." || strings.Contains(storeID, "/") {
		return nil, ErrNoStore
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadScheme, u.Scheme)
	}
	return u.JoinPath("stores", url.PathEscape(storeID), "sync"), nil
}

// httpURL turns the websocket sync endpoint into the plain http endpoint leaf of the
// same store. Path holds the unescaped store id, so String escapes it the same way.
func httpURL(sync *url.URL, leaf string) string {
	u := *sync
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/sync") + "/" + leaf
	u.RawPath = ""
	return u.String()
}

type Config struct {
	ServerURL string
	StoreID   string
	Tokens    auth.TokenSource

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Sync       Options

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

// Synchronizer keeps a local store in sync with the relay, reconnecting and
// refreshing its token as needed.
type Synchronizer struct {
	store  *store.Store
	url    *url.URL
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	status    Status
	listeners []StatusListener

	// state of the request/response sync, see Poll
	pollMu    sync.Mutex
	pollState *store.SyncState
	cookie    []byte
}

func New(s *store.Store, cfg Config) (*Synchronizer, error) {
	u, err := BuildURL(cfg.ServerURL, cfg.StoreID)
	if err != nil {
		return nil, err
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * cfg.MinBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Synchronizer{store: s, url: u, cfg: cfg, dialer: dialer, status: Disconnected}, nil
}

func (z *Synchronizer) URL() string {
	return z.url.String()
}

// OnStatus registers fn to be called on every status transition.
func (z *Synchronizer) OnStatus(fn StatusListener) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.listeners = append(z.listeners, fn)
}

func (z *Synchronizer) Status() Status {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.status
}

func (z *Synchronizer) setStatus(s Status, err error) {
	z.mu.Lock()
	z.status = s
	fns := append([]StatusListener(nil), z.listeners...)
	z.mu.Unlock()
	for _, fn := range fns {
		fn(s, err)
	}
}

func (z *Synchronizer) header(ctx context.Context) (http.Header, error) {
	tok, err := z.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

func (z *Synchronizer) invalidateToken() {
	if inv, ok := z.cfg.Tokens.(auth.Invalidator); ok {
		inv.Invalidate()
	}
}

// statusError maps an http status to an error, invalidating the token on 401 so
// the next attempt reauthenticates.
func (z *Synchronizer) statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		z.invalidateToken()
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return fmt.Errorf("unexpected status code: %d", code)
}

func (z *Synchronizer) dial(ctx context.Context) (*websocket.Conn, error) {
	h, err := z.header(ctx)
	if err != nil {
		return nil, err
	}
	conn, resp, err := z.dialer.DialContext(ctx, z.url.String(), h)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("failed to dial: %w", z.statusError(resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// session dials once and syncs until the connection ends.
func (z *Synchronizer) session(ctx context.Context, opts Options) (bool, error) {
	z.setStatus(Connecting, nil)
	conn, err := z.dial(ctx)
	if err != nil {
		return false, err
	}
	z.setStatus(Connected, nil)
	slog.Info("connected", "url", z.url.String())
	return true, Sync(ctx, conn, z.store, opts)
}

// Run keeps the store synced until ctx ends. Failed attempts are retried with a
// backoff that doubles up to MaxBackoff and resets once a connection succeeds.
func (z *Synchronizer) Run(ctx context.Context) error {
	backoff := z.cfg.MinBackoff
	for {
		connected, err := z.session(ctx, z.cfg.Sync)
		if ctx.Err() != nil {
			z.setStatus(Stopped, nil)
			return nil
		}
		if connected {
			backoff = z.cfg.MinBackoff
		}
		z.setStatus(Disconnected, err)
		slog.Warn("sync disconnected", "url", z.url.String(), "err", err, "retry", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			z.setStatus(Stopped, nil)
			return nil
		case <-t.C:
		}
		if !connected {
			backoff *= 2
			if backoff > z.cfg.MaxBackoff {
				backoff = z.cfg.MaxBackoff
			}
		}
	}
}

// SyncOnce connects, syncs until no messages flow for quiet, and disconnects.
func (z *Synchronizer) SyncOnce(ctx context.Context, quiet time.Duration) error {
	opts := z.cfg.Sync
	opts.Quiet = quiet
	_, err := z.session(ctx, opts)
	z.setStatus(Disconnected, err)
	return err
}

// FetchLatest downloads the server's current snapshot of the store.
func (z *Synchronizer) FetchLatest(ctx context.Context) (*store.Store, error) {
	h, err := z.header(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL(z.url, "latest"), nil)
	if err != nil {
		return nil, err
	}
	req.Header = h
	resp, err := z.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, z.statusError(resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from get: %w", err)
	}
	return store.Load(raw)
}
