// Package relationships groups rows of one table under rows of another, by a cell
// in the local row holding the remote row id.
package relationships

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/astromechza/talking-todos/pkg/store"
)

var (
	ErrUnknownRelationship = errors.New("unknown relationship")
	ErrInvalidDefinition   = errors.New("invalid relationship definition")
)

type Definition struct {
	LocalTable  string
	RemoteTable string
	Cell        string
}

// Relationships is safe for concurrent use. Lookups read the store directly, so
// rows that arrive through sync are visible immediately.
type Relationships struct {
	store *store.Store

	mu   sync.RWMutex
	defs map[string]Definition
}

func New(s *store.Store) *Relationships {
	return &Relationships{store: s, defs: map[string]Definition{}}
}

// Define adds or replaces a relationship.
func (r *Relationships) Define(id, localTable, remoteTable, cell string) error {
	if id == "" || localTable == "" || remoteTable == "" || cell == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDefinition, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[id] = Definition{LocalTable: localTable, RemoteTable: remoteTable, Cell: cell}
	return nil
}

func (r *Relationships) Definition(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownRelationship, id)
	}
	return d, nil
}

func (r *Relationships) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LocalRowIDs returns the sorted ids of local rows pointing at remoteRowID. The
// remote row itself does not need to exist.
func (r *Relationships) LocalRowIDs(id, remoteRowID string) ([]string, error) {
	d, err := r.Definition(id)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rowID, cells := range r.store.GetTable(d.LocalTable) {
		if v, ok := cells[d.Cell].(string); ok && v == remoteRowID {
			ids = append(ids, rowID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoteRowID returns the remote row id a local row points at.
func (r *Relationships) RemoteRowID(id, localRowID string) (string, bool, error) {
	d, err := r.Definition(id)
	if err != nil {
		return "", false, err
	}
	v, ok := r.store.GetCell(d.LocalTable, localRowID, d.Cell)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}
