// Package syncer replicates a store to a remote peer over a websocket carrying
// binary automerge sync messages.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/talking-todos/pkg/store"
)

// ErrPeerClosed is returned by Sync when the remote side closed the connection
// cleanly.
var ErrPeerClosed = errors.New("peer closed the connection")

const maxMessageSize = 16 << 20

type Options struct {
	// Interval between periodic flushes. Changes are also pushed as soon as the
	// store reports them.
	Interval time.Duration
	// Quiet, when set, ends the sync once no message has been sent or received for
	// this long.
	Quiet time.Duration
}

func (o Options) interval() time.Duration {
	if o.Interval <= 0 {
		return time.Second
	}
	return o.Interval
}

// Sync runs the sync protocol on conn until ctx ends, the quiet period elapses, or
// either side fails. It closes conn before returning. It returns nil when it stopped
// because of ctx or the quiet period.
func Sync(ctx context.Context, conn *websocket.Conn, s *store.Store, opts Options) error {
	slog.Debug("syncing", "remote", conn.RemoteAddr().String())
	conn.SetReadLimit(maxMessageSize)
	st := s.NewSyncState()

	wake := make(chan struct{}, 1)
	poke := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	lid := s.AddListener(func(store.Change) { poke() })
	defer s.RemoveListener(lid)

	var lastActivity atomic.Int64
	touch := func() { lastActivity.Store(time.Now().UnixNano()) }
	touch()

	errQuiet := errors.New("quiet")
	g, gctx := errgroup.WithContext(ctx)

	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-gctx.Done():
		case <-closed:
		}
		_ = conn.Close()
	}()

	g.Go(func() error {
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return ErrPeerClosed
				}
				return fmt.Errorf("failed to read message: %w", err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			touch()
			if err := s.ReceiveSyncMessage(st, p); err != nil {
				return err
			}
			// the peer may be waiting on a reply even if nothing changed here
			poke()
		}
	})

	g.Go(func() error {
		flush := func() error {
			for {
				msg := s.GenerateSyncMessage(st)
				if msg == nil {
					return nil
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					return fmt.Errorf("failed to write message: %w", err)
				}
				touch()
			}
		}
		goodbye := func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}

		if err := flush(); err != nil {
			return err
		}
		t := time.NewTicker(opts.interval())
		defer t.Stop()
		for {
			select {
			case <-wake:
			case <-t.C:
				if opts.Quiet > 0 && time.Since(time.Unix(0, lastActivity.Load())) >= opts.Quiet {
					goodbye()
					return errQuiet
				}
			case <-gctx.Done():
				if ctx.Err() != nil {
					goodbye()
				}
				return nil
			}
			if err := flush(); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errQuiet):
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}
