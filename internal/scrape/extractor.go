package scrape

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/browser"
	"github.com/sells-group/qa-scraper/internal/model"
)

var tracer = otel.Tracer("github.com/sells-group/qa-scraper/internal/scrape")

// AccountSource dispenses the account a run signs in with.
type AccountSource interface {
	Acquire(ctx context.Context, site string) (*model.Account, error)
}

// Saver persists one extracted answer.
type Saver interface {
	Save(ctx context.Context, questionID, source, content, url string) (*model.Response, error)
}

// DefaultCaptchaWait is the fixed suspension after a challenge is detected.
const DefaultCaptchaWait = 50 * time.Second

// BrowserExtractor runs the search, collect and extract steps for one
// adapter through an authenticated browser session.
type BrowserExtractor struct {
	adapter     Adapter
	accounts    AccountSource
	opener      browser.Opener
	sink        Saver
	maxLinks    int
	captchaWait time.Duration
	exclude     *PathMatcher
	sleep       func(ctx context.Context, d time.Duration) error
}

// ExtractorOption configures a BrowserExtractor.
type ExtractorOption func(*BrowserExtractor)

// WithMaxLinks caps how many ranked result positions are visited.
func WithMaxLinks(n int) ExtractorOption {
	return func(e *BrowserExtractor) {
		if n > 0 {
			e.maxLinks = n
		}
	}
}

// WithCaptchaWait sets the challenge suspension. Zero disables the wait
// but the CAPTCHA_WAIT state is still recorded.
func WithCaptchaWait(d time.Duration) ExtractorOption {
	return func(e *BrowserExtractor) { e.captchaWait = d }
}

// NewBrowserExtractor creates an extractor for adapter a.
func NewBrowserExtractor(a Adapter, accounts AccountSource, opener browser.Opener, sink Saver, opts ...ExtractorOption) *BrowserExtractor {
	e := &BrowserExtractor{
		adapter:     a,
		accounts:    accounts,
		opener:      opener,
		sink:        sink,
		maxLinks:    DefaultMaxLinks,
		captchaWait: DefaultCaptchaWait,
		exclude:     NewPathMatcher(a.ExcludePaths),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name implements Extractor.
func (e *BrowserExtractor) Name() string { return e.adapter.Name }

// Adapter returns the adapter the extractor drives.
func (e *BrowserExtractor) Adapter() Adapter { return e.adapter }

// Extract implements Extractor. Responses saved before a failure or
// cancellation stay persisted and are reported in the Outcome.
func (e *BrowserExtractor) Extract(ctx context.Context, questionID, query string) (out Outcome) {
	out = Outcome{Source: e.adapter.SourceLabel()}
	out.enter(StateInit)

	ctx, span := tracer.Start(ctx, "scrape.Extract", trace.WithAttributes(
		attribute.String("scrape.source", e.adapter.Name),
		attribute.String("question.id", questionID),
	))
	defer func() { endSpan(span, &out) }()

	log := zap.L().With(
		zap.String("source", e.adapter.Name),
		zap.String("question_id", questionID),
	)

	acct, err := e.accounts.Acquire(ctx, e.adapter.Site)
	if err != nil {
		log.Warn("scrape: acquire account failed", zap.Error(err))
		return out.fail(err)
	}

	sess, err := e.opener.Open(ctx, acct)
	if err != nil {
		log.Warn("scrape: open session failed", zap.String("identity", acct.Identity), zap.Error(err))
		if model.KindOf(err) == model.KindUnknown {
			err = model.Wrap(model.KindUnauthenticated, "scrape.open", err)
		}
		return out.fail(err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("scrape: close session", zap.Error(cerr))
		}
	}()
	out.enter(StateAuthenticated)

	if err := ctx.Err(); err != nil {
		return out.fail(cancelled(err))
	}
	if err := e.search(ctx, sess, query); err != nil {
		log.Warn("scrape: search failed", zap.Error(err))
		return out.fail(err)
	}
	out.enter(StateSearched)

	html, err := sess.HTML(ctx)
	if err != nil {
		return out.fail(navigationErr(err))
	}

	if blocked, kind := DetectChallenge(html, e.adapter.ChallengeSelector); blocked {
		out.enter(StateCaptchaWait)
		log.Warn("scrape: challenge detected, suspending",
			zap.String("block_type", string(kind)),
			zap.Duration("wait", e.captchaWait),
		)
		if err := e.sleep(ctx, e.captchaWait); err != nil {
			return out.fail(cancelled(err))
		}
		// Proceed regardless of whether the challenge cleared.
		if html, err = sess.HTML(ctx); err != nil {
			return out.fail(navigationErr(err))
		}
	}

	links, err := CollectLinks(html, e.adapter.ResultLinks, sess.URL(), e.maxLinks, e.exclude)
	if err != nil {
		return out.fail(navigationErr(err))
	}
	if len(links) == 0 {
		log.Info("scrape: no result links", zap.String("query", query))
		out.enter(StateDone)
		out.Err = model.Errorf(model.KindNoResultsFound, "scrape.extract", "no results for %q on %s", query, e.adapter.Name)
		return out
	}
	out.Links = links
	out.enter(StateLinksCollected)

	out.enter(StateExtracting)
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return out.fail(cancelled(err))
		}

		content, reason := e.extractLink(ctx, sess, link)
		if err := ctx.Err(); err != nil {
			return out.fail(cancelled(err))
		}
		if content == "" {
			out.Misses = append(out.Misses, Miss{URL: link, Reason: reason})
			log.Info("scrape: link missed", zap.Int("rank", i), zap.String("url", link), zap.String("reason", reason))
			continue
		}

		resp, err := e.sink.Save(ctx, questionID, out.Source, content, link)
		if err != nil {
			out.Misses = append(out.Misses, Miss{URL: link, Reason: "save: " + err.Error()})
			log.Error("scrape: save response failed", zap.String("url", link), zap.Error(err))
			continue
		}
		out.Responses = append(out.Responses, *resp)
		log.Debug("scrape: answer saved", zap.Int("rank", i), zap.String("url", link), zap.Int("chars", len(content)))
	}

	if len(out.Responses) == 0 {
		log.Warn("scrape: no answers extracted", zap.Int("links", len(links)))
		return out.fail(model.Errorf(model.KindNoAnswerExtracted, "scrape.extract",
			"%d links on %s, none yielded an answer", len(links), e.adapter.Name))
	}

	out.enter(StateDone)
	log.Info("scrape: extraction complete",
		zap.Int("responses", len(out.Responses)),
		zap.Int("misses", len(out.Misses)),
	)
	return out
}

func (e *BrowserExtractor) search(ctx context.Context, sess browser.Session, query string) error {
	a := e.adapter

	if a.EntryURL != "" && (a.SearchURL == "" || a.LoggedInSelector != "") {
		if err := sess.Navigate(ctx, a.EntryURL); err != nil {
			return navigationErr(err)
		}
		if err := e.checkLoggedIn(ctx, sess); err != nil {
			return err
		}
	}

	if page := a.SearchPage(query); page != "" {
		return navigationErr(sess.Navigate(ctx, page))
	}
	return navigationErr(sess.Search(ctx, a.SearchInput, a.SearchSubmit, query))
}

func (e *BrowserExtractor) checkLoggedIn(ctx context.Context, sess browser.Session) error {
	if e.adapter.LoggedInSelector == "" {
		return nil
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return navigationErr(err)
	}
	if !HasSelector(html, e.adapter.LoggedInSelector) {
		return model.Errorf(model.KindUnauthenticated, "scrape.search",
			"session for %s is not signed in (missing %s)", e.adapter.Name, e.adapter.LoggedInSelector)
	}
	return nil
}

// extractLink returns the answer text at link, or "" and the miss reason.
func (e *BrowserExtractor) extractLink(ctx context.Context, sess browser.Session, link string) (string, string) {
	ctx, span := tracer.Start(ctx, "scrape.extractLink", trace.WithAttributes(attribute.String("url", link)))
	defer span.End()

	if err := sess.Navigate(ctx, link); err != nil {
		span.RecordError(err)
		return "", "navigate: " + err.Error()
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		span.RecordError(err)
		return "", "read page: " + err.Error()
	}
	doc, err := parseHTML(html)
	if err != nil {
		return "", err.Error()
	}

	if text := SelectText(doc, e.adapter.Primary); text != "" {
		span.SetAttributes(attribute.String("selector", "primary"))
		return text, ""
	}
	if text := SelectText(doc, e.adapter.Fallback); text != "" {
		span.SetAttributes(attribute.String("selector", "fallback"))
		return text, ""
	}
	return "", "primary and fallback selectors empty"
}

func navigationErr(err error) error {
	if err == nil {
		return nil
	}
	if model.KindOf(err) != model.KindUnknown {
		return err
	}
	return model.Wrap(model.KindNavigation, "scrape.navigate", err)
}

func cancelled(err error) error {
	return model.Wrap(model.KindNavigation, "scrape.cancelled", err)
}

func endSpan(span trace.Span, out *Outcome) {
	span.SetAttributes(
		attribute.String("scrape.state", string(out.State)),
		attribute.Int("scrape.responses", len(out.Responses)),
		attribute.Int("scrape.misses", len(out.Misses)),
	)
	if out.Failed() && out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	span.End()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
