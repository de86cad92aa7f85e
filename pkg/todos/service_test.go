package todos

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/talking-todos/pkg/generate"
	"github.com/astromechza/talking-todos/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.New()
	require.NoError(t, err)
	svc := NewService(s)
	clock := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func TestService_ListLifecycle(t *testing.T) {
	svc := newTestService(t)

	l, err := svc.CreateList(List{Name: "  Groceries ", Template: TemplateShopping, Emoji: "🛒", SharedWith: []string{"A@example.com", "a@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", l.Name)
	assert.Equal(t, TemplateShopping, l.Template)
	assert.Equal(t, []string{"a@example.com"}, l.SharedWith)
	assert.False(t, l.CreatedAt.IsZero())

	other, err := svc.CreateList(List{Name: "Chores"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate, other.Template)

	lists := svc.Lists()
	require.Len(t, lists, 2)
	assert.Equal(t, l.ID, lists[0].ID)
	assert.Equal(t, other.ID, lists[1].ID)

	renamed, err := svc.RenameList(l.ID, "Food")
	require.NoError(t, err)
	assert.Equal(t, "Food", renamed.Name)
	assert.Equal(t, "🛒", renamed.Emoji)
	assert.True(t, renamed.UpdatedAt.After(l.UpdatedAt))

	shared, err := svc.ShareList(l.ID, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, shared.SharedWith)

	renamed.Emoji = ""
	cleared, err := svc.UpdateList(renamed)
	require.NoError(t, err)
	assert.Equal(t, "", cleared.Emoji)
}

func TestService_ListValidation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateList(List{Name: " "})
	assert.ErrorIs(t, err, ErrEmptyListName)
	_, err = svc.CreateList(List{Name: strings.Repeat("x", 256)})
	assert.ErrorIs(t, err, ErrListNameTooLong)
	_, err = svc.CreateList(List{Name: "x", Template: "kanban"})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	_, err = svc.CreateList(List{Name: "x", SharedWith: []string{"not an address"}})
	assert.ErrorIs(t, err, ErrInvalidShareAddr)
	_, err = svc.GetList("missing")
	assert.ErrorIs(t, err, ErrListNotFound)
	_, err = svc.RenameList("missing", "x")
	assert.ErrorIs(t, err, ErrListNotFound)
	assert.ErrorIs(t, svc.DeleteList("missing"), ErrListNotFound)
	assert.Empty(t, svc.Lists())
}

func TestService_Todos(t *testing.T) {
	svc := newTestService(t)
	l, err := svc.CreateList(List{Name: "Groceries", Template: TemplateShopping})
	require.NoError(t, err)

	milk, err := svc.AddTodo(l.ID, Todo{Text: "milk", Number: 2})
	require.NoError(t, err)
	assert.Equal(t, l.ID, milk.ListID)
	assert.Equal(t, 2.0, milk.Number)

	added, err := svc.AddTodos(l.ID, []Todo{{Text: "bread"}, {Text: "eggs", Date: "2024-05-01"}})
	require.NoError(t, err)
	require.Len(t, added, 2)

	todos, err := svc.Todos(l.ID)
	require.NoError(t, err)
	var texts []string
	for _, td := range todos {
		texts = append(texts, td.Text)
	}
	assert.Equal(t, []string{"milk", "bread", "eggs"}, texts)

	toggled, err := svc.ToggleTodo(milk.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Done)

	done, total, err := svc.Progress(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)

	bread := added[0]
	bread.Text = "sourdough"
	bread.ListID = "elsewhere"
	updated, err := svc.UpdateTodo(bread)
	require.NoError(t, err)
	assert.Equal(t, "sourdough", updated.Text)
	assert.Equal(t, l.ID, updated.ListID)
	assert.Equal(t, bread.CreatedAt, updated.CreatedAt)

	n, err := svc.ClearDone(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = svc.GetTodo(milk.ID)
	assert.ErrorIs(t, err, ErrTodoNotFound)

	require.NoError(t, svc.DeleteTodo(added[1].ID))
	assert.ErrorIs(t, svc.DeleteTodo(added[1].ID), ErrTodoNotFound)
}

func TestService_TodoValidation(t *testing.T) {
	svc := newTestService(t)
	l, err := svc.CreateList(List{Name: "x"})
	require.NoError(t, err)

	_, err = svc.AddTodo(l.ID, Todo{Text: ""})
	assert.ErrorIs(t, err, ErrEmptyTodoText)
	_, err = svc.AddTodo(l.ID, Todo{Text: strings.Repeat("y", 1001)})
	assert.ErrorIs(t, err, ErrTodoTextTooLong)
	_, err = svc.AddTodo(l.ID, Todo{Text: "x", Date: "tomorrow"})
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = svc.AddTodo("missing", Todo{Text: "x"})
	assert.ErrorIs(t, err, ErrListNotFound)

	// one bad todo rejects the whole batch
	_, err = svc.AddTodos(l.ID, []Todo{{Text: "ok"}, {Text: ""}})
	assert.ErrorIs(t, err, ErrEmptyTodoText)
	todos, err := svc.Todos(l.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)

	_, err = svc.ToggleTodo("missing")
	assert.ErrorIs(t, err, ErrTodoNotFound)
	_, err = svc.UpdateTodo(Todo{ID: "missing", Text: "x"})
	assert.ErrorIs(t, err, ErrTodoNotFound)
}

func TestService_DeleteListCascades(t *testing.T) {
	svc := newTestService(t)
	keep, err := svc.CreateList(List{Name: "keep"})
	require.NoError(t, err)
	drop, err := svc.CreateList(List{Name: "drop"})
	require.NoError(t, err)
	_, err = svc.AddTodos(drop.ID, []Todo{{Text: "a"}, {Text: "b"}})
	require.NoError(t, err)
	kept, err := svc.AddTodo(keep.ID, Todo{Text: "c"})
	require.NoError(t, err)

	changes := 0
	svc.Store().AddListener(func(store.Change) { changes++ })
	require.NoError(t, svc.DeleteList(drop.ID))
	assert.Equal(t, 1, changes)

	assert.Equal(t, []string{kept.ID}, svc.Store().RowIDs(TodosTable))
	assert.Equal(t, []string{keep.ID}, svc.Store().RowIDs(ListsTable))
}

func TestService_DeleteListLeavesNoOrphans(t *testing.T) {
	svc := newTestService(t)
	l, err := svc.CreateList(List{Name: "busy"})
	require.NoError(t, err)
	done, err := svc.AddTodo(l.ID, Todo{Text: "first"})
	require.NoError(t, err)
	_, err = svc.ToggleTodo(done.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := svc.AddTodo(l.ID, Todo{Text: "more"}); err != nil {
				assert.ErrorIs(t, err, ErrListNotFound)
				return
			}
		}
	}()
	_, err = svc.ClearDone(l.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteList(l.ID))
	wg.Wait()

	// whatever interleaving happened, no todo points at the deleted list and the
	// list was not brought back by a late add
	assert.Empty(t, svc.Store().RowIDs(TodosTable))
	assert.Empty(t, svc.Store().RowIDs(ListsTable))
	_, err = svc.ClearDone(l.ID)
	assert.ErrorIs(t, err, ErrListNotFound)
}

type fakeGenerator struct {
	req generate.Request
	out []generate.Suggestion
}

func (f *fakeGenerator) Todos(_ context.Context, req generate.Request) ([]generate.Suggestion, error) {
	f.req = req
	return f.out, nil
}

func TestService_Generate(t *testing.T) {
	svc := newTestService(t)
	l, err := svc.CreateList(List{Name: "Trip", Purpose: "weekend away", Template: TemplatePacking})
	require.NoError(t, err)
	_, err = svc.AddTodo(l.ID, Todo{Text: "passport"})
	require.NoError(t, err)

	gen := &fakeGenerator{out: []generate.Suggestion{
		{Text: "socks", Emoji: "🧦", Number: 3, Category: "clothes"},
		{Text: "charger", Date: "whenever"},
		{Text: "toothbrush", Emoji: "🪥"},
	}}
	added, err := svc.Generate(context.Background(), gen, l.ID, 3)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "socks", added[0].Text)
	assert.Equal(t, 3.0, added[0].Number)
	assert.Equal(t, "toothbrush", added[1].Text)

	assert.Equal(t, "Trip", gen.req.ListName)
	assert.Equal(t, "weekend away", gen.req.Purpose)
	assert.Equal(t, "packing", gen.req.Template)
	assert.Equal(t, []string{"passport"}, gen.req.Existing)
	assert.Equal(t, 3, gen.req.Count)

	_, err = svc.Generate(context.Background(), gen, "missing", 3)
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestTemplates(t *testing.T) {
	all := Templates()
	assert.Len(t, all, 10)
	assert.Equal(t, TemplateBirthdays, all[0])
	for _, tpl := range all {
		assert.True(t, tpl.Valid())
		assert.NotEmpty(t, tpl.Description())
	}
	assert.False(t, Template("kanban").Valid())
}
