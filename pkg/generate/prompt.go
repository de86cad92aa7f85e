package generate

import (
	"fmt"
	"strings"
)

// templateHints tell the model which optional fields matter for a template.
var templateHints = map[string]string{
	"shopping":     "Each item is something to buy. Set number to the quantity and category to the supermarket aisle.",
	"meal-planner": "Each item is a meal. Set date to the day it is planned for, starting from tomorrow, and category to breakfast, lunch or dinner.",
	"birthdays":    "Each item is a person. Set date to their birthday if it is implied, and notes to a gift idea.",
	"packing":      "Each item is something to pack. Set category to clothes, toiletries, documents or gear, and number to how many.",
	"chores":       "Each item is a household job. Set category to the room it belongs to.",
	"reading":      "Each item is a book or article title. Put the author in notes.",
	"workout":      "Each item is an exercise. Set number to the repetitions and category to the muscle group.",
	"wishlist":     "Each item is a gift idea or purchase to save for. Put a rough price in notes.",
	"travel":       "Each item is a place to visit or a preparation step. Set category to sights, food or admin.",
}

func systemInstruction(req Request) string {
	var b strings.Builder
	b.WriteString("You help people fill in todo lists. Reply only with a JSON array of todo items. ")
	b.WriteString("Keep each text short, at most eight words, and pick one fitting emoji per item.")
	if hint, ok := templateHints[req.Template]; ok {
		b.WriteString(" ")
		b.WriteString(hint)
	}
	return b.String()
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d new items for the list %q.", req.count(), req.ListName)
	if req.Purpose != "" {
		fmt.Fprintf(&b, " The list is for: %s.", req.Purpose)
	}
	if len(req.Existing) > 0 {
		b.WriteString(" It already contains: ")
		b.WriteString(strings.Join(req.Existing, "; "))
		b.WriteString(". Do not repeat those.")
	}
	return b.String()
}
