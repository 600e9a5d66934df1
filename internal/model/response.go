package model

import "time"

// Response is a single scraped answer tied to a Question. Responses are
// append-only.
type Response struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	ScrapedAt  time.Time `json:"scraped_at"`
}
