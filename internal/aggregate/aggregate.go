// Package aggregate builds a question's summary from its stored Responses.
package aggregate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
)

// SummaryUnavailable is returned in place of a summary when the
// summarization call fails. It is never written to the question.
const SummaryUnavailable = "Summary not available"

// Separator joins Response contents in the summarization input.
const Separator = "\n\n"

// Summarizer is the external summarization capability.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Store is the persistence the aggregator reads and writes.
type Store interface {
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	ListResponses(ctx context.Context, questionID string) ([]model.Response, error)
	SetSummary(ctx context.Context, id string, summary string) error
}

// Aggregator summarizes all Responses of a question.
type Aggregator struct {
	st  Store
	sum Summarizer
}

// New creates an Aggregator.
func New(st Store, sum Summarizer) *Aggregator {
	return &Aggregator{st: st, sum: sum}
}

// Summarize recomputes the question's summary from scratch and overwrites
// Question.summary. It returns nil without touching the question when there
// are no Responses, and SummaryUnavailable (also without touching it) when
// the summarizer fails.
func (a *Aggregator) Summarize(ctx context.Context, questionID string) (*string, error) {
	log := zap.L().With(zap.String("question_id", questionID))

	if _, err := a.st.GetQuestion(ctx, questionID); err != nil {
		return nil, model.Wrap(model.KindStorage, "aggregate.summarize", err)
	}

	resps, err := a.st.ListResponses(ctx, questionID)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "aggregate.summarize", err)
	}
	if len(resps) == 0 {
		log.Info("aggregate: no responses, nothing to summarize")
		return nil, nil
	}

	text := Concat(resps)
	summary, err := a.sum.Summarize(ctx, text)
	if err != nil {
		log.Warn("aggregate: summarization failed",
			zap.Int("responses", len(resps)),
			zap.Error(err),
		)
		s := SummaryUnavailable
		return &s, nil
	}

	if err := a.st.SetSummary(ctx, questionID, summary); err != nil {
		return nil, model.Wrap(model.KindStorage, "aggregate.summarize", err)
	}

	log.Info("aggregate: summary updated",
		zap.Int("responses", len(resps)),
		zap.Int("input_chars", len(text)),
		zap.Int("summary_chars", len(summary)),
	)
	return &summary, nil
}

// Concat joins Response contents in the given order.
func Concat(resps []model.Response) string {
	parts := make([]string, 0, len(resps))
	for _, r := range resps {
		if c := strings.TrimSpace(r.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, Separator)
}
