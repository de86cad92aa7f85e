// Package todos stores lists and the todos that belong to them in a mergeable store.
package todos

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/astromechza/talking-todos/pkg/relationships"
	"github.com/astromechza/talking-todos/pkg/store"
)

const (
	ListsTable = "lists"
	TodosTable = "todos"

	// TodoListRelationship groups todos under their list.
	TodoListRelationship = "todoList"

	maxNameLength = 255
	maxTextLength = 1000
	dateLayout    = "2006-01-02"
)

type List struct {
	ID              string
	Name            string
	Purpose         string
	Template        Template
	BackgroundColor string
	Emoji           string
	SharedWith      []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Todo struct {
	ID        string
	ListID    string
	Text      string
	Notes     string
	Done      bool
	Emoji     string
	Category  string
	Date      string
	Number    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is safe for concurrent use.
type Service struct {
	store *store.Store
	rel   *relationships.Relationships
	now   func() time.Time
}

func NewService(s *store.Store) *Service {
	rel := relationships.New(s)
	// constant, valid definition
	_ = rel.Define(TodoListRelationship, TodosTable, ListsTable, "list")
	return &Service{store: s, rel: rel, now: time.Now}
}

func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) Relationships() *relationships.Relationships {
	return s.rel
}

func (s *Service) timestamp() int64 {
	return s.now().UnixMilli()
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyListName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrListNameTooLong
	}
	return name, nil
}

func validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTodoText
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return "", ErrTodoTextTooLong
	}
	return text, nil
}

func validateDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func normalizeShares(emails []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		if _, err := mail.ParseAddress(e); err != nil || strings.Contains(e, ",") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidShareAddr, e)
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

// CreateList validates and inserts a list. An empty template means the default.
func (s *Service) CreateList(l List) (List, error) {
	name, err := validateName(l.Name)
	if err != nil {
		return List{}, err
	}
	l.Name = name
	if l.Template == "" {
		l.Template = DefaultTemplate
	}
	if !l.Template.Valid() {
		return List{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, l.Template)
	}
	if l.SharedWith, err = normalizeShares(l.SharedWith); err != nil {
		return List{}, err
	}
	ts := s.timestamp()
	cells := listCells(l)
	cells["createdAt"] = ts
	cells["updatedAt"] = ts
	id, err := s.store.AddRow(ListsTable, cells)
	if err != nil {
		return List{}, fmt.Errorf("failed to create list: %w", err)
	}
	return s.GetList(id)
}

func (s *Service) GetList(id string) (List, error) {
	cells, ok := s.store.GetRow(ListsTable, id)
	if !ok {
		return List{}, fmt.Errorf("%w: %s", ErrListNotFound, id)
	}
	return listFromCells(id, cells), nil
}

// Lists returns every list, oldest first.
func (s *Service) Lists() []List {
	table := s.store.GetTable(ListsTable)
	out := make([]List, 0, len(table))
	for _, id := range s.store.SortedRowIDs(ListsTable, "createdAt", false, 0, 0) {
		if cells, ok := table[id]; ok {
			out = append(out, listFromCells(id, cells))
		}
	}
	return out
}

// UpdateList overwrites the editable fields of an existing list.
func (s *Service) UpdateList(l List) (List, error) {
	if _, err := s.GetList(l.ID); err != nil {
		return List{}, err
	}
	name, err := validateName(l.Name)
	if err != nil {
		return List{}, err
	}
	l.Name = name
	if l.Template == "" {
		l.Template = DefaultTemplate
	}
	if !l.Template.Valid() {
		return List{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, l.Template)
	}
	if l.SharedWith, err = normalizeShares(l.SharedWith); err != nil {
		return List{}, err
	}
	cells := listCells(l)
	cells["updatedAt"] = s.timestamp()
	if err := s.store.SetPartialRow(ListsTable, l.ID, cells); err != nil {
		return List{}, fmt.Errorf("failed to update list: %w", err)
	}
	return s.GetList(l.ID)
}

func (s *Service) RenameList(id, name string) (List, error) {
	l, err := s.GetList(id)
	if err != nil {
		return List{}, err
	}
	l.Name = name
	return s.UpdateList(l)
}

// ShareList adds the given addresses to the list's share set.
func (s *Service) ShareList(id string, emails ...string) (List, error) {
	l, err := s.GetList(id)
	if err != nil {
		return List{}, err
	}
	l.SharedWith = append(l.SharedWith, emails...)
	return s.UpdateList(l)
}

// DeleteList removes the list and all of its todos in one change.
func (s *Service) DeleteList(id string) error {
	return s.store.Transaction("delete list", func(tx *store.Tx) error {
		if err := listExists(tx, id); err != nil {
			return err
		}
		for tid := range todoRows(tx, id) {
			if err := tx.DelRow(TodosTable, tid); err != nil {
				return err
			}
		}
		return tx.DelRow(ListsTable, id)
	})
}

func listExists(tx *store.Tx, id string) error {
	if _, ok := tx.GetRow(ListsTable, id); !ok {
		return fmt.Errorf("%w: %s", ErrListNotFound, id)
	}
	return nil
}

// todoRows reads the todos of a list as the transaction sees them, so that rows
// written concurrently cannot slip between the read and the write.
func todoRows(tx *store.Tx, listID string) map[string]store.Cells {
	out := map[string]store.Cells{}
	for id, cells := range tx.GetTable(TodosTable) {
		if str(cells, "list") == listID {
			out[id] = cells
		}
	}
	return out
}

func (s *Service) prepareTodo(t Todo) (Todo, error) {
	text, err := validateText(t.Text)
	if err != nil {
		return Todo{}, err
	}
	t.Text = text
	if err := validateDate(t.Date); err != nil {
		return Todo{}, err
	}
	return t, nil
}

func (s *Service) AddTodo(listID string, t Todo) (Todo, error) {
	added, err := s.AddTodos(listID, []Todo{t})
	if err != nil {
		return Todo{}, err
	}
	return added[0], nil
}

// AddTodos inserts several todos into a list as a single change. Either all of
// them are added or none.
func (s *Service) AddTodos(listID string, in []Todo) ([]Todo, error) {
	prepared := make([]Todo, 0, len(in))
	for _, t := range in {
		p, err := s.prepareTodo(t)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}
	ts := s.timestamp()
	ids := make([]string, 0, len(prepared))
	err := s.store.Transaction("add todos", func(tx *store.Tx) error {
		if err := listExists(tx, listID); err != nil {
			return err
		}
		for i, t := range prepared {
			t.ListID = listID
			cells := todoCells(t)
			// keep insertion order stable when sorting by creation time
			cells["createdAt"] = ts + int64(i)
			cells["updatedAt"] = ts + int64(i)
			id, err := tx.AddRow(TodosTable, cells)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return tx.SetPartialRow(ListsTable, listID, store.Cells{"updatedAt": ts})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add todos: %w", err)
	}
	out := make([]Todo, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTodo(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) GetTodo(id string) (Todo, error) {
	cells, ok := s.store.GetRow(TodosTable, id)
	if !ok {
		return Todo{}, fmt.Errorf("%w: %s", ErrTodoNotFound, id)
	}
	return todoFromCells(id, cells), nil
}

// Todos returns the todos of a list, oldest first.
func (s *Service) Todos(listID string) ([]Todo, error) {
	ids, err := s.rel.LocalRowIDs(TodoListRelationship, listID)
	if err != nil {
		return nil, err
	}
	out := make([]Todo, 0, len(ids))
	for _, id := range ids {
		if cells, ok := s.store.GetRow(TodosTable, id); ok {
			out = append(out, todoFromCells(id, cells))
		}
	}
	sortTodos(out)
	return out, nil
}

// UpdateTodo overwrites the editable fields of an existing todo. The list it
// belongs to cannot change.
func (s *Service) UpdateTodo(t Todo) (Todo, error) {
	existing, err := s.GetTodo(t.ID)
	if err != nil {
		return Todo{}, err
	}
	t, err = s.prepareTodo(t)
	if err != nil {
		return Todo{}, err
	}
	t.ListID = existing.ListID
	cells := todoCells(t)
	cells["updatedAt"] = s.timestamp()
	if err := s.store.SetPartialRow(TodosTable, t.ID, cells); err != nil {
		return Todo{}, fmt.Errorf("failed to update todo: %w", err)
	}
	return s.GetTodo(t.ID)
}

// ToggleTodo flips the done flag and returns the updated todo.
func (s *Service) ToggleTodo(id string) (Todo, error) {
	t, err := s.GetTodo(id)
	if err != nil {
		return Todo{}, err
	}
	if err := s.store.SetPartialRow(TodosTable, id, store.Cells{
		"done":      !t.Done,
		"updatedAt": s.timestamp(),
	}); err != nil {
		return Todo{}, fmt.Errorf("failed to toggle todo: %w", err)
	}
	return s.GetTodo(id)
}

func (s *Service) DeleteTodo(id string) error {
	if _, err := s.GetTodo(id); err != nil {
		return err
	}
	return s.store.DelRow(TodosTable, id)
}

// ClearDone deletes the finished todos of a list and returns how many went.
func (s *Service) ClearDone(listID string) (int, error) {
	n := 0
	err := s.store.Transaction("clear done", func(tx *store.Tx) error {
		if err := listExists(tx, listID); err != nil {
			return err
		}
		for id, cells := range todoRows(tx, listID) {
			if !todoFromCells(id, cells).Done {
				continue
			}
			if err := tx.DelRow(TodosTable, id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Progress returns how many todos of a list are done, out of the total.
func (s *Service) Progress(listID string) (done, total int, err error) {
	todos, err := s.Todos(listID)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range todos {
		if t.Done {
			done++
		}
	}
	return done, len(todos), nil
}
