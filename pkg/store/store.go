// Package store is a mergeable tabular store: tables of rows of scalar cells, plus a
// set of keyed values, held in a single automerge document so that copies edited
// independently can be merged or synced without coordination.
//
// Rows are stored directly under the document root as maps keyed "t/<table>/<row>"
// and values as scalars keyed "v/<value>". There are no per-table container maps: two
// peers creating the same container concurrently would produce conflicting objects
// and one side's rows would be hidden by the merge.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
)

var (
	ErrInvalidID   = errors.New("invalid id")
	ErrInvalidCell = errors.New("invalid cell value: must be string, number or bool")
)

const (
	rowPrefix   = "t/"
	valuePrefix = "v/"
)

// Cells is the content of a single row.
type Cells map[string]any

// Change describes a committed modification of the store.
type Change struct {
	// Tables touched by the change. Nil when the change came from a remote peer and
	// the affected tables are unknown.
	Tables []string
	// Values is set when keyed values were touched.
	Values bool
	// Remote is set when the change arrived through a sync message or merge.
	Remote bool
}

// Touches reports whether the change may affect the given table.
func (c Change) Touches(table string) bool {
	if c.Tables == nil {
		return true
	}
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

type Listener func(Change)

type Option func(*Store) error

// WithActorID sets the automerge actor id used for local changes. It must be a hex
// string.
func WithActorID(actor string) Option {
	return func(s *Store) error {
		if err := s.doc.SetActorID(actor); err != nil {
			return fmt.Errorf("failed to set actor id: %w", err)
		}
		return nil
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	doc *automerge.Doc

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(opts ...Option) (*Store, error) {
	return newStore(automerge.New(), opts)
}

// Load restores a store from the bytes returned by Save.
func Load(raw []byte, opts ...Option) (*Store, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return newStore(doc, opts)
}

func newStore(doc *automerge.Doc, opts []Option) (*Store, error) {
	s := &Store{doc: doc, listeners: make(map[int]Listener)}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ActorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ActorID()
}

// AddListener registers fn to be called after every committed change. Listeners run
// on the goroutine that made the change, after the store lock is released.
func (s *Store) AddListener(fn Listener) int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = fn
	return s.nextID
}

func (s *Store) RemoveListener(id int) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	delete(s.listeners, id)
}

func (s *Store) notify(c Change) {
	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Transaction runs fn and commits every write it queued as a single change. Writes
// are applied only if fn returns nil. Reads inside fn observe the state from before
// the transaction.
func (s *Store) Transaction(msg string, fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{doc: s.doc, tables: map[string]bool{}}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if len(tx.ops) == 0 {
		s.mu.Unlock()
		return nil
	}
	err := s.apply(msg, tx.ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	c := Change{Tables: make([]string, 0, len(tx.tables)), Values: tx.values}
	for t := range tx.tables {
		c.Tables = append(c.Tables, t)
	}
	sort.Strings(c.Tables)
	slog.Debug("committed", "msg", msg, "tables", c.Tables, "values", c.Values)
	s.notify(c)
	return nil
}

// apply runs ops against a fork and merges the committed change back, so that a
// failing op leaves nothing behind in the live document. The caller holds mu.
func (s *Store) apply(msg string, ops []op) error {
	fork, err := s.doc.Fork()
	if err != nil {
		return fmt.Errorf("failed to fork: %w", err)
	}
	if err := fork.SetActorID(s.doc.ActorID()); err != nil {
		return fmt.Errorf("failed to set actor id: %w", err)
	}
	for _, o := range ops {
		if err := o(fork); err != nil {
			return err
		}
	}
	if _, err := fork.Commit(msg, automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	if _, err := s.doc.Merge(fork); err != nil {
		return fmt.Errorf("failed to merge: %w", err)
	}
	return nil
}

func (s *Store) read(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{doc: s.doc})
}

func (s *Store) SetCell(table, row, cell string, value any) error {
	return s.Transaction("set cell", func(tx *Tx) error {
		return tx.SetCell(table, row, cell, value)
	})
}

// SetRow replaces the row so that it holds exactly the given cells.
func (s *Store) SetRow(table, row string, cells Cells) error {
	return s.Transaction("set row", func(tx *Tx) error {
		return tx.SetRow(table, row, cells)
	})
}

// SetPartialRow writes the given cells and leaves the other cells of the row alone.
func (s *Store) SetPartialRow(table, row string, cells Cells) error {
	return s.Transaction("set partial row", func(tx *Tx) error {
		return tx.SetPartialRow(table, row, cells)
	})
}

// AddRow inserts a row under a new random id and returns the id.
func (s *Store) AddRow(table string, cells Cells) (string, error) {
	var id string
	err := s.Transaction("add row", func(tx *Tx) error {
		var err error
		id, err = tx.AddRow(table, cells)
		return err
	})
	return id, err
}

func (s *Store) DelCell(table, row, cell string) error {
	return s.Transaction("del cell", func(tx *Tx) error {
		return tx.DelCell(table, row, cell)
	})
}

func (s *Store) DelRow(table, row string) error {
	return s.Transaction("del row", func(tx *Tx) error {
		return tx.DelRow(table, row)
	})
}

func (s *Store) DelTable(table string) error {
	return s.Transaction("del table", func(tx *Tx) error {
		return tx.DelTable(table)
	})
}

func (s *Store) SetValue(id string, value any) error {
	return s.Transaction("set value", func(tx *Tx) error {
		return tx.SetValue(id, value)
	})
}

func (s *Store) DelValue(id string) error {
	return s.Transaction("del value", func(tx *Tx) error {
		return tx.DelValue(id)
	})
}

func (s *Store) GetCell(table, row, cell string) (v any, ok bool) {
	s.read(func(tx *Tx) { v, ok = tx.GetCell(table, row, cell) })
	return
}

func (s *Store) GetRow(table, row string) (c Cells, ok bool) {
	s.read(func(tx *Tx) { c, ok = tx.GetRow(table, row) })
	return
}

func (s *Store) HasRow(table, row string) bool {
	_, ok := s.GetRow(table, row)
	return ok
}

func (s *Store) GetTable(table string) (t map[string]Cells) {
	s.read(func(tx *Tx) { t = tx.GetTable(table) })
	return
}

func (s *Store) TableIDs() (ids []string) {
	s.read(func(tx *Tx) { ids = tx.TableIDs() })
	return
}

func (s *Store) RowIDs(table string) (ids []string) {
	s.read(func(tx *Tx) { ids = tx.RowIDs(table) })
	return
}

// SortedRowIDs orders the rows of table by the value of cell, breaking ties by row
// id. Rows without the cell sort below every value: first when ascending, last when
// descending. A limit of zero means no limit.
func (s *Store) SortedRowIDs(table, cell string, descending bool, offset, limit int) (ids []string) {
	s.read(func(tx *Tx) { ids = tx.SortedRowIDs(table, cell, descending, offset, limit) })
	return
}

func (s *Store) GetValue(id string) (v any, ok bool) {
	s.read(func(tx *Tx) { v, ok = tx.GetValue(id) })
	return
}

func (s *Store) ValueIDs() (ids []string) {
	s.read(func(tx *Tx) { ids = tx.ValueIDs() })
	return
}

func validID(id string) bool {
	return id != ""
}

func validTableID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

func rowKey(table, row string) string {
	return rowPrefix + table + "/" + row
}

// splitRowKey is the inverse of rowKey.
func splitRowKey(key string) (table, row string, ok bool) {
	rest, found := strings.CutPrefix(key, rowPrefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, "/")
}

// normalize converts a Go value to the cell representation stored in the doc.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidCell, v)
	}
}

func fromValue(v *automerge.Value) (any, bool) {
	switch v.Kind() {
	case automerge.KindStr:
		return v.Str(), true
	case automerge.KindBool:
		return v.Bool(), true
	case automerge.KindFloat64:
		return v.Float64(), true
	case automerge.KindInt64:
		return v.Int64(), true
	case automerge.KindUint64:
		return int64(v.Uint64()), true
	default:
		return nil, false
	}
}
