package todos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astromechza/talking-todos/pkg/generate"
)

// Generate asks gen for up to count new todos fitting the list and adds them.
// Suggestions that fail validation are skipped rather than failing the batch.
func (s *Service) Generate(ctx context.Context, gen generate.Generator, listID string, count int) ([]Todo, error) {
	l, err := s.GetList(listID)
	if err != nil {
		return nil, err
	}
	existing, err := s.Todos(listID)
	if err != nil {
		return nil, err
	}
	req := generate.Request{
		ListName: l.Name,
		Purpose:  l.Purpose,
		Template: string(l.Template),
		Count:    count,
	}
	for _, t := range existing {
		req.Existing = append(req.Existing, t.Text)
	}
	suggestions, err := gen.Todos(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate todos for %s: %w", listID, err)
	}
	batch := make([]Todo, 0, len(suggestions))
	for _, sg := range suggestions {
		t := Todo{
			Text:     sg.Text,
			Emoji:    sg.Emoji,
			Category: sg.Category,
			Notes:    sg.Notes,
			Date:     sg.Date,
			Number:   sg.Number,
		}
		if _, err := s.prepareTodo(t); err != nil {
			slog.Warn("skipping generated todo", "list", listID, "text", sg.Text, "err", err)
			continue
		}
		batch = append(batch, t)
	}
	return s.AddTodos(listID, batch)
}
