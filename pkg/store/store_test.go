package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func TestStore_CellsAndRows(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetRow("todos", "a", Cells{"text": "milk", "done": false, "number": 2}))
	require.NoError(t, s.SetCell("todos", "a", "done", true))

	row, ok := s.GetRow("todos", "a")
	require.True(t, ok)
	assert.Equal(t, Cells{"text": "milk", "done": true, "number": int64(2)}, row)

	v, ok := s.GetCell("todos", "a", "text")
	require.True(t, ok)
	assert.Equal(t, "milk", v)

	_, ok = s.GetCell("todos", "a", "missing")
	assert.False(t, ok)
	_, ok = s.GetRow("todos", "nope")
	assert.False(t, ok)
	assert.True(t, s.HasRow("todos", "a"))
}

func TestStore_SetRowReplacesPartialMerges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetRow("lists", "l", Cells{"name": "Groceries", "emoji": "🛒"}))

	require.NoError(t, s.SetPartialRow("lists", "l", Cells{"purpose": "weekly shop"}))
	row, _ := s.GetRow("lists", "l")
	assert.Equal(t, Cells{"name": "Groceries", "emoji": "🛒", "purpose": "weekly shop"}, row)

	require.NoError(t, s.SetRow("lists", "l", Cells{"name": "Food"}))
	row, _ = s.GetRow("lists", "l")
	assert.Equal(t, Cells{"name": "Food"}, row)
}

func TestStore_DeleteLastCellDeletesRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCell("todos", "a", "text", "x"))
	require.NoError(t, s.DelCell("todos", "a", "text"))
	assert.False(t, s.HasRow("todos", "a"))
	assert.Empty(t, s.RowIDs("todos"))

	// deleting things that are not there is fine
	require.NoError(t, s.DelCell("todos", "a", "text"))
	require.NoError(t, s.DelRow("todos", "a"))
	require.NoError(t, s.DelValue("nothing"))
}

func TestStore_Validation(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.SetCell("", "a", "c", 1), ErrInvalidID)
	assert.ErrorIs(t, s.SetCell("a/b", "a", "c", 1), ErrInvalidID)
	assert.ErrorIs(t, s.SetCell("t", "", "c", 1), ErrInvalidID)
	assert.ErrorIs(t, s.SetCell("t", "r", "", 1), ErrInvalidID)
	assert.ErrorIs(t, s.SetCell("t", "r", "c", []string{"no"}), ErrInvalidCell)
	assert.ErrorIs(t, s.SetRow("t", "r", Cells{"c": struct{}{}}), ErrInvalidCell)
	assert.Empty(t, s.TableIDs())
}

func TestStore_TablesAndRowIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCell("todos", "b", "text", "2"))
	require.NoError(t, s.SetCell("todos", "a", "text", "1"))
	require.NoError(t, s.SetCell("lists", "x", "name", "n"))
	require.NoError(t, s.SetValue("theme", "dark"))

	assert.Equal(t, []string{"lists", "todos"}, s.TableIDs())
	assert.Equal(t, []string{"a", "b"}, s.RowIDs("todos"))
	assert.Len(t, s.GetTable("todos"), 2)
	assert.Equal(t, []string{"theme"}, s.ValueIDs())

	v, ok := s.GetValue("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)

	require.NoError(t, s.DelTable("todos"))
	assert.Equal(t, []string{"lists"}, s.TableIDs())
}

func TestStore_SortedRowIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCell("todos", "a", "createdAt", 30))
	require.NoError(t, s.SetCell("todos", "b", "createdAt", 10))
	require.NoError(t, s.SetCell("todos", "c", "createdAt", 20))
	require.NoError(t, s.SetCell("todos", "d", "text", "no timestamp"))
	require.NoError(t, s.SetCell("todos", "e", "createdAt", 20))

	assert.Equal(t, []string{"d", "b", "c", "e", "a"}, s.SortedRowIDs("todos", "createdAt", false, 0, 0))
	assert.Equal(t, []string{"a", "e", "c"}, s.SortedRowIDs("todos", "createdAt", true, 0, 3))
	// descending reverses the whole order, so the row without the cell ends up last
	assert.Equal(t, []string{"a", "e", "c", "b", "d"}, s.SortedRowIDs("todos", "createdAt", true, 0, 0))
	assert.Equal(t, []string{"c", "e"}, s.SortedRowIDs("todos", "createdAt", false, 2, 2))
	assert.Empty(t, s.SortedRowIDs("todos", "createdAt", false, 10, 0))
}

func TestStore_TransactionIsAtomic(t *testing.T) {
	s := newTestStore(t)
	var changes []Change
	s.AddListener(func(c Change) { changes = append(changes, c) })

	boom := errors.New("boom")
	err := s.Transaction("fail", func(tx *Tx) error {
		require.NoError(t, tx.SetCell("todos", "a", "text", "x"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, s.HasRow("todos", "a"))
	assert.Empty(t, changes)

	err = s.Transaction("ok", func(tx *Tx) error {
		if err := tx.SetCell("todos", "a", "text", "x"); err != nil {
			return err
		}
		if err := tx.SetCell("lists", "l", "name", "y"); err != nil {
			return err
		}
		return tx.SetValue("v", true)
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"lists", "todos"}, changes[0].Tables)
	assert.True(t, changes[0].Values)
	assert.False(t, changes[0].Remote)
	assert.True(t, changes[0].Touches("todos"))
	assert.False(t, changes[0].Touches("other"))
}

func TestStore_FailedWriteLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	var changes []Change
	s.AddListener(func(c Change) { changes = append(changes, c) })
	heads := s.Heads()

	boom := errors.New("boom")
	err := s.Transaction("fail late", func(tx *Tx) error {
		require.NoError(t, tx.SetCell("todos", "a", "text", "x"))
		tx.queue("lists", func(*automerge.Doc) error { return boom })
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, s.HasRow("todos", "a"))
	assert.Equal(t, heads, s.Heads())
	assert.Empty(t, changes)

	// the next commit carries only its own write
	require.NoError(t, s.SetValue("theme", "dark"))
	assert.False(t, s.HasRow("todos", "a"))
	all, err := s.Changes()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ScalarAtRowKeyIsOverwritten(t *testing.T) {
	doc := automerge.New()
	require.NoError(t, doc.RootMap().Set("t/lists/x", "not a row"))
	require.NoError(t, doc.RootMap().Set("t/lists/y", "not a row"))
	_, err := doc.Commit("odd peer")
	require.NoError(t, err)
	s, err := Load(doc.Save())
	require.NoError(t, err)
	assert.False(t, s.HasRow("lists", "x"))

	err = s.Transaction("fix", func(tx *Tx) error {
		if err := tx.SetCell("todos", "a", "text", "x"); err != nil {
			return err
		}
		if err := tx.SetCell("lists", "x", "name", "groceries"); err != nil {
			return err
		}
		return tx.SetRow("lists", "y", Cells{"name": "chores"})
	})
	require.NoError(t, err)
	assert.True(t, s.HasRow("todos", "a"))
	name, ok := s.GetCell("lists", "x", "name")
	require.True(t, ok)
	assert.Equal(t, "groceries", name)
	row, ok := s.GetRow("lists", "y")
	require.True(t, ok)
	assert.Equal(t, Cells{"name": "chores"}, row)
}

func TestStore_EmptyTransactionDoesNotCommit(t *testing.T) {
	s := newTestStore(t)
	called := false
	s.AddListener(func(Change) { called = true })
	require.NoError(t, s.Transaction("noop", func(*Tx) error { return nil }))
	assert.False(t, called)
	assert.Empty(t, s.Heads())
}

func TestStore_RemoveListener(t *testing.T) {
	s := newTestStore(t)
	n := 0
	id := s.AddListener(func(Change) { n++ })
	require.NoError(t, s.SetValue("a", 1))
	s.RemoveListener(id)
	require.NoError(t, s.SetValue("a", 2))
	assert.Equal(t, 1, n)
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetRow("todos", "a", Cells{"text": "x", "weight": 1.5}))

	loaded, err := Load(s.Save())
	require.NoError(t, err)
	row, ok := loaded.GetRow("todos", "a")
	require.True(t, ok)
	assert.Equal(t, Cells{"text": "x", "weight": 1.5}, row)
	assert.Equal(t, HeadsKey(s.Heads()), HeadsKey(loaded.Heads()))

	_, err = Load([]byte("not a doc"))
	assert.Error(t, err)
}

func TestStore_MergeConcurrentEdits(t *testing.T) {
	base := newTestStore(t)
	require.NoError(t, base.SetRow("todos", "a", Cells{"text": "milk", "done": false}))

	left, err := base.Fork()
	require.NoError(t, err)
	right, err := base.Fork()
	require.NoError(t, err)

	require.NoError(t, left.SetCell("todos", "a", "done", true))
	require.NoError(t, right.SetCell("todos", "a", "text", "oat milk"))
	require.NoError(t, right.SetCell("todos", "b", "text", "bread"))

	remote := 0
	left.AddListener(func(c Change) {
		if c.Remote {
			remote++
		}
	})
	require.NoError(t, left.Merge(right))
	require.NoError(t, right.Merge(left))
	assert.Equal(t, 1, remote)

	assert.Equal(t, left.GetTable("todos"), right.GetTable("todos"))
	row, _ := left.GetRow("todos", "a")
	assert.Equal(t, Cells{"text": "oat milk", "done": true}, row)
	assert.Equal(t, []string{"a", "b"}, left.RowIDs("todos"))
}

// exchange passes sync messages between two stores until neither has anything to
// send.
func exchange(t *testing.T, a, b *Store) {
	t.Helper()
	sa, sb := a.NewSyncState(), b.NewSyncState()
	for {
		moved := false
		for msg := a.GenerateSyncMessage(sa); msg != nil; msg = a.GenerateSyncMessage(sa) {
			moved = true
			require.NoError(t, b.ReceiveSyncMessage(sb, msg))
		}
		for msg := b.GenerateSyncMessage(sb); msg != nil; msg = b.GenerateSyncMessage(sb) {
			moved = true
			require.NoError(t, a.ReceiveSyncMessage(sa, msg))
		}
		if !moved {
			return
		}
	}
}

func TestStore_SyncMessages(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	require.NoError(t, a.SetCell("lists", "l1", "name", "from a"))
	require.NoError(t, b.SetCell("lists", "l2", "name", "from b"))

	var remote []Change
	var mu sync.Mutex
	b.AddListener(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		remote = append(remote, c)
	})

	exchange(t, a, b)

	assert.Equal(t, []string{"l1", "l2"}, a.RowIDs("lists"))
	assert.Equal(t, a.GetTable("lists"), b.GetTable("lists"))
	assert.Equal(t, HeadsKey(a.Heads()), HeadsKey(b.Heads()))
	require.NotEmpty(t, remote)
	assert.True(t, remote[0].Remote)
	assert.Nil(t, remote[0].Tables)
}

func TestStore_SyncStateRoundTrip(t *testing.T) {
	a := newTestStore(t)
	st := a.NewSyncState()
	restored, err := a.LoadSyncState(st.Save())
	require.NoError(t, err)
	assert.NotNil(t, restored)
}

func TestStore_WithActorID(t *testing.T) {
	s, err := New(WithActorID("0a0b0c0d"))
	require.NoError(t, err)
	assert.Equal(t, "0a0b0c0d", s.ActorID())

	require.NoError(t, s.SetValue("theme", "dark"))
	changes, err := s.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "0a0b0c0d", changes[0].ActorID())

	_, err = New(WithActorID("not hex"))
	assert.Error(t, err)
}
