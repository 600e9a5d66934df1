package model

import (
	"strings"
	"time"
)

// Category is the topical class a question is routed by.
type Category string

const (
	CategoryProgramming Category = "programming"
	CategoryTechnology  Category = "technology"
	CategoryScience     Category = "science"
	CategoryHealth      Category = "health"
	CategoryEducation   Category = "education"
	CategoryGeneral     Category = "general"
)

// Categories lists every category the classifier may return.
var Categories = []Category{
	CategoryProgramming,
	CategoryTechnology,
	CategoryScience,
	CategoryHealth,
	CategoryEducation,
	CategoryGeneral,
}

// ParseCategory normalizes raw classifier or user input. Unknown values
// report ok=false.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Question is a user-submitted question. Category and Summary stay nil until
// classification and aggregation fill them in.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  *Category `json:"category,omitempty"`
	Summary   *string   `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasCategory reports whether the question was already classified.
func (q Question) HasCategory() bool {
	return q.Category != nil && *q.Category != ""
}
