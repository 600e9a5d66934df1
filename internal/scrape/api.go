package scrape

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/pkg/stackexchange"
)

// APIExtractor answers from the Stack Exchange API instead of a browser.
// It needs no account and follows the same miss and empty-result rules as
// BrowserExtractor.
type APIExtractor struct {
	client   stackexchange.Client
	sink     Saver
	maxLinks int
}

// APIExtractorName is the routing key of the API source.
const APIExtractorName = "stackexchange"

// NewAPIExtractor creates an APIExtractor. maxLinks <= 0 uses DefaultMaxLinks.
func NewAPIExtractor(client stackexchange.Client, sink Saver, maxLinks int) *APIExtractor {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &APIExtractor{client: client, sink: sink, maxLinks: maxLinks}
}

// Name implements Extractor.
func (e *APIExtractor) Name() string { return APIExtractorName }

// Extract implements Extractor. The top answer of each of the first
// maxLinks search hits is saved.
func (e *APIExtractor) Extract(ctx context.Context, questionID, query string) (out Outcome) {
	out = Outcome{Source: "Stack Exchange"}
	out.enter(StateInit)

	ctx, span := tracer.Start(ctx, "scrape.ExtractAPI", trace.WithAttributes(
		attribute.String("scrape.source", APIExtractorName),
		attribute.String("question.id", questionID),
	))
	defer func() { endSpan(span, &out) }()

	log := zap.L().With(zap.String("source", APIExtractorName), zap.String("question_id", questionID))

	out.enter(StateAuthenticated)
	hits, err := e.client.Search(ctx, query, e.maxLinks)
	if err != nil {
		log.Warn("scrape: api search failed", zap.Error(err))
		return out.fail(navigationErr(err))
	}
	out.enter(StateSearched)

	if len(hits) > e.maxLinks {
		hits = hits[:e.maxLinks]
	}
	if len(hits) == 0 {
		log.Info("scrape: no api results", zap.String("query", query))
		out.enter(StateDone)
		out.Err = model.Errorf(model.KindNoResultsFound, "scrape.extract", "no results for %q on %s", query, APIExtractorName)
		return out
	}

	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.QuestionID)
		out.Links = append(out.Links, h.Link)
	}
	out.enter(StateLinksCollected)

	answers, err := e.client.Answers(ctx, ids)
	if err != nil {
		log.Warn("scrape: api answers failed", zap.Error(err))
		return out.fail(navigationErr(err))
	}
	out.enter(StateExtracting)

	// Answers arrive highest voted first; keep the first per question.
	top := make(map[int64]stackexchange.Answer, len(answers))
	for _, a := range answers {
		if _, ok := top[a.QuestionID]; !ok {
			top[a.QuestionID] = a
		}
	}

	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return out.fail(cancelled(err))
		}
		a, ok := top[h.QuestionID]
		if !ok {
			out.Misses = append(out.Misses, Miss{URL: h.Link, Reason: "no answers"})
			continue
		}
		content := HTMLText(a.Body)
		if content == "" {
			out.Misses = append(out.Misses, Miss{URL: h.Link, Reason: "empty answer body"})
			continue
		}
		resp, err := e.sink.Save(ctx, questionID, out.Source, content, h.Link)
		if err != nil {
			out.Misses = append(out.Misses, Miss{URL: h.Link, Reason: "save: " + err.Error()})
			log.Error("scrape: save response failed", zap.String("url", h.Link), zap.Error(err))
			continue
		}
		out.Responses = append(out.Responses, *resp)
	}

	if len(out.Responses) == 0 {
		return out.fail(model.Errorf(model.KindNoAnswerExtracted, "scrape.extract",
			"%d questions on %s, none had a usable answer", len(hits), APIExtractorName))
	}
	out.enter(StateDone)
	log.Info("scrape: api extraction complete",
		zap.Int("responses", len(out.Responses)),
		zap.Int("misses", len(out.Misses)),
	)
	return out
}
