package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astromechza/talking-todos/pkg/store"
)

// LoadStore restores the store saved under id, or returns a new empty store when
// nothing was saved yet.
func LoadStore(ctx context.Context, p Persister, id string, opts ...store.Option) (*store.Store, error) {
	raw, err := p.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return store.New(opts...)
	} else if err != nil {
		return nil, err
	}
	s, err := store.Load(raw, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load store %s: %w", id, err)
	}
	return s, nil
}

// Saver writes a store to a persister whenever its heads moved since the last
// write.
type Saver struct {
	store     *store.Store
	persister Persister
	id        string
	lastHeads string
}

func NewSaver(s *store.Store, p Persister, id string) *Saver {
	return &Saver{store: s, persister: p, id: id, lastHeads: "\x00"}
}

// SaveIfChanged reports whether a write happened.
func (sv *Saver) SaveIfChanged(ctx context.Context) (bool, error) {
	heads := store.HeadsKey(sv.store.Heads())
	if heads == sv.lastHeads {
		return false, nil
	}
	if err := sv.persister.Save(ctx, sv.id, sv.store.Save()); err != nil {
		return false, err
	}
	sv.lastHeads = heads
	return true, nil
}

// DefaultSaveInterval is used by AutoSave when the interval is not positive.
const DefaultSaveInterval = 2 * time.Second

// AutoSave saves the store at most once per interval after it changes, and once
// more when ctx ends. It blocks until ctx ends.
func AutoSave(ctx context.Context, s *store.Store, p Persister, id string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	sv := NewSaver(s, p, id)
	dirty := make(chan struct{}, 1)
	lid := s.AddListener(func(store.Change) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer s.RemoveListener(lid)

	t := time.NewTicker(interval)
	defer t.Stop()
	pending := true
	for {
		select {
		case <-dirty:
			pending = true
		case <-t.C:
			if !pending {
				continue
			}
			if saved, err := sv.SaveIfChanged(ctx); err != nil {
				slog.Error("failed to save store", "store", id, "err", err)
			} else {
				pending = false
				if saved {
					slog.Debug("saved", "store", id)
				}
			}
		case <-ctx.Done():
			// the caller's context is gone, so use a fresh one for the final write
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := sv.SaveIfChanged(flushCtx)
			return err
		}
	}
}
