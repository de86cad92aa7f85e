// Package generate asks a generative model for todo suggestions.
package generate

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("model returned no suggestions")
	ErrNoAPIKey      = errors.New("gemini api key is required")
)

const (
	DefaultCount = 5
	MaxCount     = 25
)

type Request struct {
	ListName string
	Purpose  string
	Template string
	// Existing todo texts, so the model does not repeat them.
	Existing []string
	Count    int
}

type Suggestion struct {
	Text     string  `json:"text"`
	Emoji    string  `json:"emoji,omitempty"`
	Category string  `json:"category,omitempty"`
	Notes    string  `json:"notes,omitempty"`
	Date     string  `json:"date,omitempty"`
	Number   float64 `json:"number,omitempty"`
}

type Generator interface {
	Todos(ctx context.Context, req Request) ([]Suggestion, error)
}

func (r Request) count() int {
	switch {
	case r.Count <= 0:
		return DefaultCount
	case r.Count > MaxCount:
		return MaxCount
	}
	return r.Count
}

// filter drops blank suggestions and those repeating an existing todo or an
// earlier suggestion, then truncates to n.
func filter(in []Suggestion, existing []string, n int) []Suggestion {
	seen := make(map[string]bool, len(existing)+len(in))
	for _, e := range existing {
		seen[strings.ToLower(strings.TrimSpace(e))] = true
	}
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		key := strings.ToLower(s.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
