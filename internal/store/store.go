package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qa-scraper/internal/model"
)

// ErrNotFound is returned (wrapped) when a keyed record does not exist.
var ErrNotFound = eris.New("not found")

// QuestionFilter specifies criteria for listing questions.
type QuestionFilter struct {
	Category     model.Category `json:"category,omitempty"`
	Unsummarized bool           `json:"unsummarized,omitempty"`
	Limit        int            `json:"limit,omitempty"`
	Offset       int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scrape engine.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, acct model.Account) (*model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	FindAccount(ctx context.Context, site, identity string) (*model.Account, error)
	ListAccounts(ctx context.Context, site string) ([]model.Account, error)
	UpdateSessionState(ctx context.Context, id string, state model.SessionState) error

	// Rotation cursor
	AdvanceCursor(ctx context.Context, scope string, poolSize int) (int, error)
	GetCursor(ctx context.Context, scope string) (int, error)

	// Questions
	CreateQuestion(ctx context.Context, text string, category *model.Category) (*model.Question, error)
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListQuestions(ctx context.Context, filter QuestionFilter) ([]model.Question, error)
	SetCategory(ctx context.Context, id string, category model.Category) error
	SetSummary(ctx context.Context, id string, summary string) error

	// Responses
	CreateResponse(ctx context.Context, resp model.Response) (*model.Response, error)
	ListResponses(ctx context.Context, questionID string) ([]model.Response, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validatePoolSize(poolSize int) error {
	if poolSize <= 0 {
		return eris.Errorf("pool size must be > 0, got %d", poolSize)
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
