package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/astromechza/talking-todos/pkg/persist"
	"github.com/astromechza/talking-todos/pkg/store"
)

type entry struct {
	store *store.Store
	saver *persist.Saver
}

// registry holds one live store per store id, loaded lazily from persistence.
type registry struct {
	persister persist.Persister

	mu     sync.Mutex
	stores map[string]*entry
}

func newRegistry(p persist.Persister) *registry {
	return &registry{persister: p, stores: map[string]*entry{}}
}

func (r *registry) get(ctx context.Context, id string) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.stores[id]; ok {
		return e.store, nil
	}
	s, err := persist.LoadStore(ctx, r.persister, id)
	if err != nil {
		return nil, err
	}
	r.stores[id] = &entry{store: s, saver: persist.NewSaver(s, r.persister, id)}
	slog.Info("loaded store", "store", id, "heads", len(s.Heads()))
	return s, nil
}

func (r *registry) snapshot() map[string]*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make(map[string]*entry, len(r.stores))
	for id, e := range r.stores {
		entries[id] = e
	}
	return entries
}

// backup saves every store whose heads moved since its last save.
func (r *registry) backup(ctx context.Context) {
	for id, e := range r.snapshot() {
		if saved, err := e.saver.SaveIfChanged(ctx); err != nil {
			slog.Error("failed to backup doc in database", "store", id, "err", err)
		} else if saved {
			slog.Info("backed up", "store", id)
		}
	}
}
