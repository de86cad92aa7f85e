package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	reply  string
	err    error
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func TestGemini_Todos(t *testing.T) {
	fake := &fakeModels{reply: `[
		{"text": "Milk", "emoji": "🥛", "number": 2, "category": "dairy"},
		{"text": "bread", "emoji": "🍞"},
		{"text": "  Eggs ", "emoji": "🥚", "number": 12},
		{"text": "eggs", "emoji": "🥚"},
		{"text": "", "emoji": "❓"},
		{"text": "Apples", "emoji": "🍎"}
	]`}
	g := newGemini(fake, "")

	got, err := g.Todos(context.Background(), Request{
		ListName: "Groceries",
		Purpose:  "weekly shop",
		Template: "shopping",
		Existing: []string{"Bread"},
		Count:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, []Suggestion{
		{Text: "Milk", Emoji: "🥛", Number: 2, Category: "dairy"},
		{Text: "Eggs", Emoji: "🥚", Number: 12},
	}, got)

	assert.Equal(t, DefaultModel, fake.model)
	assert.Contains(t, fake.prompt, `"Groceries"`)
	assert.Contains(t, fake.prompt, "Bread")
	require.NotNil(t, fake.config)
	assert.Equal(t, "application/json", fake.config.ResponseMIMEType)
	assert.Equal(t, genai.TypeArray, fake.config.ResponseSchema.Type)
	assert.EqualValues(t, 2, *fake.config.ResponseSchema.MaxItems)
	assert.Contains(t, fake.config.SystemInstruction.Parts[0].Text, "quantity")
}

func TestGemini_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newGemini(&fakeModels{reply: ""}, "m").Todos(ctx, Request{ListName: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = newGemini(&fakeModels{reply: `[{"text": "dup"}]`}, "m").Todos(ctx, Request{ListName: "x", Existing: []string{"DUP"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = newGemini(&fakeModels{reply: `{"not": "an array"}`}, "m").Todos(ctx, Request{ListName: "x"})
	assert.Error(t, err)

	boom := errors.New("quota")
	_, err = newGemini(&fakeModels{err: boom}, "m").Todos(ctx, Request{ListName: "x"})
	assert.ErrorIs(t, err, boom)

	_, err = NewGemini(ctx, "", "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestRequest_Count(t *testing.T) {
	assert.Equal(t, DefaultCount, Request{}.count())
	assert.Equal(t, MaxCount, Request{Count: 1000}.count())
	assert.Equal(t, 3, Request{Count: 3}.count())
}

func TestPrompts(t *testing.T) {
	req := Request{ListName: "Week", Template: "meal-planner", Count: 7}
	assert.Contains(t, systemInstruction(req), "date")
	assert.Contains(t, userPrompt(req), "Suggest 7 new items")
	assert.NotContains(t, systemInstruction(Request{Template: "checklist"}), "quantity")
}
