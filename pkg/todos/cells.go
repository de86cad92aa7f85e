package todos

import (
	"sort"
	"strings"
	"time"

	"github.com/astromechza/talking-todos/pkg/store"
)

// listCells writes every editable field, empty ones included, so a partial row
// update clears fields the caller emptied.
func listCells(l List) store.Cells {
	return store.Cells{
		"name":            l.Name,
		"purpose":         l.Purpose,
		"template":        string(l.Template),
		"backgroundColor": l.BackgroundColor,
		"emoji":           l.Emoji,
		"sharedWith":      strings.Join(l.SharedWith, ","),
	}
}

func todoCells(t Todo) store.Cells {
	return store.Cells{
		"list":     t.ListID,
		"text":     t.Text,
		"notes":    t.Notes,
		"done":     t.Done,
		"emoji":    t.Emoji,
		"category": t.Category,
		"date":     t.Date,
		"number":   t.Number,
	}
}

func str(c store.Cells, k string) string {
	s, _ := c[k].(string)
	return s
}

func num(c store.Cells, k string) float64 {
	switch v := c[k].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func millis(c store.Cells, k string) time.Time {
	switch v := c[k].(type) {
	case int64:
		return time.UnixMilli(v)
	case float64:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}

func listFromCells(id string, c store.Cells) List {
	l := List{
		ID:              id,
		Name:            str(c, "name"),
		Purpose:         str(c, "purpose"),
		Template:        Template(str(c, "template")),
		BackgroundColor: str(c, "backgroundColor"),
		Emoji:           str(c, "emoji"),
		CreatedAt:       millis(c, "createdAt"),
		UpdatedAt:       millis(c, "updatedAt"),
	}
	if l.Template == "" {
		l.Template = DefaultTemplate
	}
	if shared := str(c, "sharedWith"); shared != "" {
		l.SharedWith = strings.Split(shared, ",")
	}
	return l
}

func todoFromCells(id string, c store.Cells) Todo {
	done, _ := c["done"].(bool)
	return Todo{
		ID:        id,
		ListID:    str(c, "list"),
		Text:      str(c, "text"),
		Notes:     str(c, "notes"),
		Done:      done,
		Emoji:     str(c, "emoji"),
		Category:  str(c, "category"),
		Date:      str(c, "date"),
		Number:    num(c, "number"),
		CreatedAt: millis(c, "createdAt"),
		UpdatedAt: millis(c, "updatedAt"),
	}
}

func sortTodos(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if !todos[i].CreatedAt.Equal(todos[j].CreatedAt) {
			return todos[i].CreatedAt.Before(todos[j].CreatedAt)
		}
		return todos[i].ID < todos[j].ID
	})
}
