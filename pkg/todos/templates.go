package todos

import "sort"

// Template names the flavour a list is rendered as. The set is shared with the
// mobile and web clients, so names must not change.
type Template string

const (
	TemplateChecklist   Template = "checklist"
	TemplateShopping    Template = "shopping"
	TemplateMealPlanner Template = "meal-planner"
	TemplateBirthdays   Template = "birthdays"
	TemplatePacking     Template = "packing"
	TemplateChores      Template = "chores"
	TemplateReading     Template = "reading"
	TemplateWorkout     Template = "workout"
	TemplateWishlist    Template = "wishlist"
	TemplateTravel      Template = "travel"
)

const DefaultTemplate = TemplateChecklist

var templates = map[Template]string{
	TemplateChecklist:   "A plain list of things to do",
	TemplateShopping:    "Items to buy, with quantities",
	TemplateMealPlanner: "Meals planned for particular days",
	TemplateBirthdays:   "People and the dates of their birthdays",
	TemplatePacking:     "Things to pack, grouped by category",
	TemplateChores:      "Recurring household jobs",
	TemplateReading:     "Books and articles to read",
	TemplateWorkout:     "Exercises with sets or repetitions",
	TemplateWishlist:    "Gift ideas and things to save for",
	TemplateTravel:      "Places to visit and trip preparations",
}

func (t Template) Valid() bool {
	_, ok := templates[t]
	return ok
}

func (t Template) Description() string {
	return templates[t]
}

// Templates returns the catalogue sorted by name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
