package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
)

type op func(doc *automerge.Doc) error

// Tx queues writes for Store.Transaction and reads the committed document.
type Tx struct {
	doc    *automerge.Doc
	ops    []op
	tables map[string]bool
	values bool
}

func (tx *Tx) queue(table string, o op) {
	tx.ops = append(tx.ops, o)
	if table != "" {
		tx.tables[table] = true
	} else {
		tx.values = true
	}
}

func checkRow(table, row string) error {
	if !validTableID(table) {
		return fmt.Errorf("%w: table %q", ErrInvalidID, table)
	}
	if !validID(row) {
		return fmt.Errorf("%w: row %q", ErrInvalidID, row)
	}
	return nil
}

func normalizeCells(cells Cells) (Cells, error) {
	out := make(Cells, len(cells))
	for k, v := range cells {
		if !validID(k) {
			return nil, fmt.Errorf("%w: empty cell id", ErrInvalidID)
		}
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("cell %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (tx *Tx) SetCell(table, row, cell string, value any) error {
	if err := checkRow(table, row); err != nil {
		return err
	}
	if !validID(cell) {
		return fmt.Errorf("%w: empty cell id", ErrInvalidID)
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	key := rowKey(table, row)
	tx.queue(table, func(doc *automerge.Doc) error {
		if err := clearNonRow(doc, key); err != nil {
			return err
		}
		if err := doc.Path(key, cell).Set(v); err != nil {
			return fmt.Errorf("failed to set cell %s/%s/%s: %w", table, row, cell, err)
		}
		return nil
	})
	return nil
}

func (tx *Tx) SetRow(table, row string, cells Cells) error {
	return tx.setRow(table, row, cells, true)
}

func (tx *Tx) SetPartialRow(table, row string, cells Cells) error {
	return tx.setRow(table, row, cells, false)
}

func (tx *Tx) setRow(table, row string, cells Cells, replace bool) error {
	if err := checkRow(table, row); err != nil {
		return err
	}
	norm, err := normalizeCells(cells)
	if err != nil {
		return err
	}
	key := rowKey(table, row)
	tx.queue(table, func(doc *automerge.Doc) error {
		if err := clearNonRow(doc, key); err != nil {
			return err
		}
		if replace {
			existing, err := rowMap(doc, key)
			if err != nil {
				return err
			}
			if existing != nil {
				keys, err := existing.Keys()
				if err != nil {
					return fmt.Errorf("failed to list cells: %w", err)
				}
				for _, k := range keys {
					if _, keep := norm[k]; keep {
						continue
					}
					if err := existing.Delete(k); err != nil {
						return fmt.Errorf("failed to delete cell %s: %w", k, err)
					}
				}
			}
		}
		if len(norm) == 0 {
			if replace {
				return deleteKey(doc, key)
			}
			return nil
		}
		for k, v := range norm {
			if err := doc.Path(key, k).Set(v); err != nil {
				return fmt.Errorf("failed to set cell %s/%s/%s: %w", table, row, k, err)
			}
		}
		return nil
	})
	return nil
}

func (tx *Tx) AddRow(table string, cells Cells) (string, error) {
	id := uuid.NewString()
	if err := tx.SetRow(table, id, cells); err != nil {
		return "", err
	}
	return id, nil
}

// DelCell removes a cell. A row left without cells is removed too.
func (tx *Tx) DelCell(table, row, cell string) error {
	if err := checkRow(table, row); err != nil {
		return err
	}
	key := rowKey(table, row)
	tx.queue(table, func(doc *automerge.Doc) error {
		m, err := rowMap(doc, key)
		if err != nil || m == nil {
			return err
		}
		v, err := m.Get(cell)
		if err != nil {
			return fmt.Errorf("failed to get cell: %w", err)
		}
		if v.IsVoid() {
			return nil
		}
		if err := m.Delete(cell); err != nil {
			return fmt.Errorf("failed to delete cell: %w", err)
		}
		if m.Len() == 0 {
			return deleteKey(doc, key)
		}
		return nil
	})
	return nil
}

func (tx *Tx) DelRow(table, row string) error {
	if err := checkRow(table, row); err != nil {
		return err
	}
	key := rowKey(table, row)
	tx.queue(table, func(doc *automerge.Doc) error {
		return deleteKey(doc, key)
	})
	return nil
}

func (tx *Tx) DelTable(table string) error {
	if !validTableID(table) {
		return fmt.Errorf("%w: table %q", ErrInvalidID, table)
	}
	tx.queue(table, func(doc *automerge.Doc) error {
		keys, err := doc.RootMap().Keys()
		if err != nil {
			return fmt.Errorf("failed to list rows: %w", err)
		}
		for _, k := range keys {
			if t, _, ok := splitRowKey(k); ok && t == table {
				if err := doc.RootMap().Delete(k); err != nil {
					return fmt.Errorf("failed to delete row %s: %w", k, err)
				}
			}
		}
		return nil
	})
	return nil
}

func (tx *Tx) SetValue(id string, value any) error {
	if !validID(id) {
		return fmt.Errorf("%w: value id", ErrInvalidID)
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	tx.queue("", func(doc *automerge.Doc) error {
		if err := doc.RootMap().Set(valuePrefix+id, v); err != nil {
			return fmt.Errorf("failed to set value %s: %w", id, err)
		}
		return nil
	})
	return nil
}

func (tx *Tx) DelValue(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: value id", ErrInvalidID)
	}
	tx.queue("", func(doc *automerge.Doc) error {
		return deleteKey(doc, valuePrefix+id)
	})
	return nil
}

func (tx *Tx) GetCell(table, row, cell string) (any, bool) {
	m, err := rowMap(tx.doc, rowKey(table, row))
	if err != nil || m == nil {
		return nil, false
	}
	v, err := m.Get(cell)
	if err != nil {
		return nil, false
	}
	return fromValue(v)
}

func (tx *Tx) GetRow(table, row string) (Cells, bool) {
	m, err := rowMap(tx.doc, rowKey(table, row))
	if err != nil || m == nil {
		return nil, false
	}
	return cellsOf(m), true
}

func (tx *Tx) GetTable(table string) map[string]Cells {
	out := map[string]Cells{}
	values, err := tx.doc.RootMap().Values()
	if err != nil {
		return out
	}
	for k, v := range values {
		t, row, ok := splitRowKey(k)
		if !ok || t != table || v.Kind() != automerge.KindMap {
			continue
		}
		out[row] = cellsOf(v.Map())
	}
	return out
}

func (tx *Tx) TableIDs() []string {
	keys, err := tx.doc.RootMap().Keys()
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, k := range keys {
		if t, _, ok := splitRowKey(k); ok && !seen[t] {
			seen[t] = true
			ids = append(ids, t)
		}
	}
	sort.Strings(ids)
	return ids
}

func (tx *Tx) RowIDs(table string) []string {
	keys, err := tx.doc.RootMap().Keys()
	if err != nil {
		return nil
	}
	var ids []string
	for _, k := range keys {
		if t, row, ok := splitRowKey(k); ok && t == table {
			ids = append(ids, row)
		}
	}
	sort.Strings(ids)
	return ids
}

func (tx *Tx) SortedRowIDs(table, cell string, descending bool, offset, limit int) []string {
	rows := tx.GetTable(table)
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aok := rows[ids[i]][cell]
		b, bok := rows[ids[j]][cell]
		c := compareCells(a, aok, b, bok)
		if c == 0 {
			c = strings.Compare(ids[i], ids[j])
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
	if offset > 0 {
		if offset >= len(ids) {
			return []string{}
		}
		ids = ids[offset:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

func (tx *Tx) GetValue(id string) (any, bool) {
	v, err := tx.doc.RootMap().Get(valuePrefix + id)
	if err != nil {
		return nil, false
	}
	return fromValue(v)
}

func (tx *Tx) ValueIDs() []string {
	keys, err := tx.doc.RootMap().Keys()
	if err != nil {
		return nil
	}
	var ids []string
	for _, k := range keys {
		if id, ok := cutValueKey(k); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func cutValueKey(k string) (string, bool) {
	id, ok := strings.CutPrefix(k, valuePrefix)
	return id, ok && id != ""
}

// rowMap returns nil without error when the row does not exist.
func rowMap(doc *automerge.Doc, key string) (*automerge.Map, error) {
	v, err := doc.RootMap().Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	if v.Kind() != automerge.KindMap {
		return nil, nil
	}
	return v.Map(), nil
}

// clearNonRow removes a scalar left at a row key by another peer so that the row
// can be written as a map.
func clearNonRow(doc *automerge.Doc, key string) error {
	v, err := doc.RootMap().Get(key)
	if err != nil {
		return fmt.Errorf("failed to get row: %w", err)
	}
	if v.IsVoid() || v.Kind() == automerge.KindMap {
		return nil
	}
	if err := doc.RootMap().Delete(key); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

func deleteKey(doc *automerge.Doc, key string) error {
	v, err := doc.RootMap().Get(key)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if v.IsVoid() {
		return nil
	}
	if err := doc.RootMap().Delete(key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func cellsOf(m *automerge.Map) Cells {
	values, err := m.Values()
	if err != nil {
		return Cells{}
	}
	out := make(Cells, len(values))
	for k, v := range values {
		if c, ok := fromValue(v); ok {
			out[k] = c
		}
	}
	return out
}
