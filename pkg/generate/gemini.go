package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates suggestions with the Gemini API using a JSON response schema.
type Gemini struct {
	models contentGenerator
	model  string
}

var _ Generator = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGemini(client.Models, model), nil
}

func newGemini(models contentGenerator, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Gemini{models: models, model: model}
}

func suggestionSchema(n int) *genai.Schema {
	maxItems := int64(n)
	return &genai.Schema{
		Type:     genai.TypeArray,
		MaxItems: &maxItems,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"text":     {Type: genai.TypeString, Description: "The todo itself"},
				"emoji":    {Type: genai.TypeString, Description: "A single emoji"},
				"category": {Type: genai.TypeString},
				"notes":    {Type: genai.TypeString},
				"date":     {Type: genai.TypeString, Description: "YYYY-MM-DD, only when a date matters"},
				"number":   {Type: genai.TypeNumber, Description: "Quantity, count or repetitions"},
			},
			Required: []string{"text", "emoji"},
		},
	}
}

func (g *Gemini) Todos(ctx context.Context, req Request) ([]Suggestion, error) {
	n := req.count()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(userPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(req), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    suggestionSchema(n),
		Temperature:       genai.Ptr[float32](0.8),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate todos: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, ErrEmptyResponse
	}
	var raw []Suggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode model reply: %w", err)
	}
	out := filter(raw, req.Existing, n)
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}
	slog.Debug("generated todos", "model", g.model, "template", req.Template, "received", len(raw), "kept", len(out))
	return out, nil
}
