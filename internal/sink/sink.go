// Package sink persists extracted answers as Response records.
package sink

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/store"
)

// ResponseWriter is the slice of store.Store the sink needs.
type ResponseWriter interface {
	CreateResponse(ctx context.Context, resp model.Response) (*model.Response, error)
}

// Sink validates and durably writes Responses. It never deduplicates.
type Sink struct {
	w ResponseWriter
}

// New creates a Sink over w.
func New(w ResponseWriter) *Sink {
	return &Sink{w: w}
}

// Save writes one answer. Blank content, url, question or source is a
// validation error and nothing is written.
func (s *Sink) Save(ctx context.Context, questionID, source, content, url string) (*model.Response, error) {
	var missing []string
	if strings.TrimSpace(questionID) == "" {
		missing = append(missing, "question_id")
	}
	if strings.TrimSpace(source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(content) == "" {
		missing = append(missing, "content")
	}
	if strings.TrimSpace(url) == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return nil, model.Errorf(model.KindValidation, "sink.save", "required: %s", strings.Join(missing, ", "))
	}

	resp, err := s.w.CreateResponse(ctx, model.Response{
		QuestionID: questionID,
		Source:     source,
		Content:    content,
		URL:        strings.TrimSpace(url),
	})
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "sink.save", err)
	}

	zap.L().Debug("sink: response saved",
		zap.String("question_id", questionID),
		zap.String("source", source),
		zap.String("response_id", resp.ID),
	)
	return resp, nil
}

var _ ResponseWriter = (store.Store)(nil)
