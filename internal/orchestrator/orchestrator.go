// Package orchestrator drives one question end to end: classify, route to
// sources, extract, and aggregate.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/resilience"
	"github.com/sells-group/qa-scraper/internal/scrape"
)

var tracer = otel.Tracer("github.com/sells-group/qa-scraper/internal/orchestrator")

// Classifier assigns a category to question text.
type Classifier interface {
	Classify(ctx context.Context, text string) (model.Category, error)
}

// Aggregator recomputes a question's summary.
type Aggregator interface {
	Summarize(ctx context.Context, questionID string) (*string, error)
}

// Store is the question persistence the orchestrator needs.
type Store interface {
	GetQuestion(ctx context.Context, id string) (*model.Question, error)
	SetCategory(ctx context.Context, id string, category model.Category) error
}

// Status of one source within a run.
type Status string

const (
	StatusOK        Status = "ok"
	StatusEmpty     Status = "no_results"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "circuit_open"
	StatusUnrouted  Status = "not_registered"
	StatusCancelled Status = "cancelled"
)

// SourceResult summarizes one extractor run.
type SourceResult struct {
	Name       string       `json:"name"`
	Status     Status       `json:"status"`
	State      scrape.State `json:"state,omitempty"`
	Responses  int          `json:"responses"`
	Misses     int          `json:"misses"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Result is what Process reports for a question.
type Result struct {
	QuestionID    string         `json:"question_id"`
	Category      model.Category `json:"category"`
	ResponseCount int            `json:"response_count"`
	Summary       *string        `json:"summary"`
	Sources       []SourceResult `json:"sources"`
}

// Orchestrator processes questions.
type Orchestrator struct {
	st         Store
	classifier Classifier
	extractors *scrape.Registry
	agg        Aggregator
	router     *Router
	breakers   *resilience.SourceBreakers
}

// New creates an Orchestrator. A nil breakers disables circuit breaking.
func New(st Store, classifier Classifier, extractors *scrape.Registry, agg Aggregator, router *Router, breakers *resilience.SourceBreakers) *Orchestrator {
	return &Orchestrator{
		st:         st,
		classifier: classifier,
		extractors: extractors,
		agg:        agg,
		router:     router,
		breakers:   breakers,
	}
}

// Process runs the question through classification, every routed source,
// and aggregation. One source failing is logged and skipped; the call fails
// only when the category cannot be saved, every routed source failed, or the
// summary cannot be written. Responses already saved are never rolled back.
func (o *Orchestrator) Process(ctx context.Context, questionID string) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Process", trace.WithAttributes(attribute.String("question.id", questionID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := zap.L().With(zap.String("question_id", questionID))
	start := time.Now()

	q, err := o.st.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "orchestrator.process", err)
	}

	category, err := o.category(ctx, q)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("question.category", string(category)))

	result = &Result{QuestionID: q.ID, Category: category}
	names := o.router.Route(category)
	log.Info("orchestrator: processing",
		zap.String("category", string(category)),
		zap.Strings("sources", names),
	)

	var failures []error
	for _, name := range names {
		sr, runErr := o.runSource(ctx, name, q)
		result.Sources = append(result.Sources, sr)
		result.ResponseCount += sr.Responses
		if runErr != nil {
			failures = append(failures, runErr)
		}
	}

	if len(names) == 0 || len(failures) == len(names) {
		cause := errors.Join(failures...)
		if len(names) == 0 {
			cause = errors.New("no sources routed")
		}
		log.Error("orchestrator: all sources failed", zap.Error(cause))
		return result, model.Wrap(model.KindAllSourcesFailed, "orchestrator.process", cause)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, model.Wrap(model.KindNavigation, "orchestrator.cancelled", ctxErr)
	}

	summary, err := o.agg.Summarize(ctx, q.ID)
	if err != nil {
		log.Error("orchestrator: aggregation failed", zap.Error(err))
		return result, err
	}
	result.Summary = summary

	log.Info("orchestrator: complete",
		zap.Int("responses", result.ResponseCount),
		zap.Int("failed_sources", len(failures)),
		zap.Bool("summarized", summary != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// category returns the stored category, classifying and persisting it when
// unset. A classifier failure falls back to general.
func (o *Orchestrator) category(ctx context.Context, q *model.Question) (model.Category, error) {
	if q.HasCategory() {
		return *q.Category, nil
	}

	cat, err := o.classifier.Classify(ctx, q.Text)
	if err != nil {
		zap.L().Warn("orchestrator: classification failed, using general",
			zap.String("question_id", q.ID),
			zap.Error(err),
		)
		cat = model.CategoryGeneral
	}

	if err := o.st.SetCategory(ctx, q.ID, cat); err != nil {
		return "", model.Wrap(model.KindStorage, "orchestrator.category", err)
	}
	q.Category = &cat
	return cat, nil
}

// runSource runs one extractor. The returned error is non-nil only when the
// source counts as failed.
func (o *Orchestrator) runSource(ctx context.Context, name string, q *model.Question) (SourceResult, error) {
	log := zap.L().With(zap.String("question_id", q.ID), zap.String("source", name))
	sr := SourceResult{Name: name}

	if err := ctx.Err(); err != nil {
		sr.Status = StatusCancelled
		sr.Error = err.Error()
		return sr, model.Wrap(model.KindNavigation, "orchestrator.cancelled", err)
	}

	ext, ok := o.extractors.Get(name)
	if !ok {
		sr.Status = StatusUnrouted
		err := model.Errorf(model.KindUnknown, "orchestrator.route", "no extractor registered as %q", name)
		sr.Error = err.Error()
		log.Error("orchestrator: routed source is not registered")
		return sr, err
	}

	var cb *resilience.CircuitBreaker
	if o.breakers != nil {
		cb = o.breakers.Get(name)
		if err := cb.Allow(); err != nil {
			sr.Status = StatusSkipped
			sr.Error = err.Error()
			log.Warn("orchestrator: source skipped", zap.Error(err))
			return sr, err
		}
	}

	start := time.Now()
	out := ext.Extract(ctx, q.ID, q.Text)
	sr.DurationMs = time.Since(start).Milliseconds()
	sr.State = out.State
	sr.Responses = len(out.Responses)
	sr.Misses = len(out.Misses)

	switch {
	case out.Failed() && errors.Is(out.Err, context.Canceled):
		sr.Status = StatusCancelled
	case out.Failed():
		sr.Status = StatusFailed
	case out.Empty():
		sr.Status = StatusEmpty
	default:
		sr.Status = StatusOK
	}
	if out.Err != nil {
		sr.Error = out.Err.Error()
	}

	if cb != nil && sr.Status != StatusCancelled {
		if sr.Status == StatusFailed {
			cb.Record(out.Err)
		} else {
			cb.Record(nil)
		}
	}

	fields := []zap.Field{
		zap.String("status", string(sr.Status)),
		zap.String("state", string(out.State)),
		zap.Int("responses", sr.Responses),
		zap.Int("misses", sr.Misses),
		zap.Int64("duration_ms", sr.DurationMs),
	}
	if out.Failed() {
		log.Warn("orchestrator: source failed", append(fields, zap.Error(out.Err))...)
		return sr, out.Err
	}
	log.Info("orchestrator: source complete", fields...)
	return sr, nil
}

// Router maps categories to source names.
type Router struct {
	routes       map[model.Category][]string
	defaultRoute []string
}

// NewRouter builds a Router from config-style routes keyed by category name.
// Unknown category names are ignored.
func NewRouter(routes map[string][]string, defaultRoute []string) *Router {
	r := &Router{routes: make(map[model.Category][]string, len(routes))}
	for raw, names := range routes {
		cat, ok := model.ParseCategory(raw)
		if !ok {
			zap.L().Warn("orchestrator: ignoring route for unknown category", zap.String("category", raw))
			continue
		}
		r.routes[cat] = cleanNames(names)
	}
	r.defaultRoute = cleanNames(defaultRoute)
	return r
}

// Route returns the sources to run for category, in order.
func (r *Router) Route(category model.Category) []string {
	if names, ok := r.routes[category]; ok && len(names) > 0 {
		return names
	}
	return r.defaultRoute
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
