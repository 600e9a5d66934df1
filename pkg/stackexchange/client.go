// Package stackexchange provides a client for the Stack Exchange API v2.3.
package stackexchange

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/qa-scraper/internal/resilience"
)

// Client defines the Stack Exchange operations used by the API source.
type Client interface {
	// Search returns questions ranked by relevance whose title matches query.
	Search(ctx context.Context, query string, limit int) ([]Question, error)
	// Answers returns answers to the given questions, highest voted first,
	// with HTML bodies.
	Answers(ctx context.Context, questionIDs []int64) ([]Answer, error)
}

// Question is a search hit.
type Question struct {
	QuestionID  int64  `json:"question_id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Score       int    `json:"score"`
	AnswerCount int    `json:"answer_count"`
	IsAnswered  bool   `json:"is_answered"`
}

// Answer is an answer with its HTML body.
type Answer struct {
	AnswerID   int64  `json:"answer_id"`
	QuestionID int64  `json:"question_id"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
	Body       string `json:"body"`
}

// wrapper is the common response envelope.
type wrapper[T any] struct {
	Items          []T    `json:"items"`
	HasMore        bool   `json:"has_more"`
	QuotaRemaining int    `json:"quota_remaining"`
	Backoff        int    `json:"backoff"`
	ErrorID        int    `json:"error_id"`
	ErrorName      string `json:"error_name"`
	ErrorMessage   string `json:"error_message"`
}

// Option configures the client.
type Option func(*restClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *restClient) {
		c.http.SetBaseURL(url)
	}
}

// WithKey sets the API key that raises the daily quota.
func WithKey(key string) Option {
	return func(c *restClient) {
		c.key = key
	}
}

// WithSite selects the Stack Exchange site. Default: stackoverflow.
func WithSite(site string) Option {
	return func(c *restClient) {
		c.site = site
	}
}

// WithRetryWait overrides the wait between retries.
func WithRetryWait(d time.Duration) Option {
	return func(c *restClient) {
		c.http.SetRetryWaitTime(d).SetRetryMaxWaitTime(d)
	}
}

type restClient struct {
	http *resty.Client
	key  string
	site string
}

// NewClient creates a Stack Exchange client.
func NewClient(opts ...Option) Client {
	hc := resty.New().
		SetBaseURL("https://api.stackexchange.com/2.3").
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case http.StatusTooManyRequests, http.StatusInternalServerError,
				http.StatusBadGateway, http.StatusServiceUnavailable:
				return true
			}
			return false
		})

	c := &restClient{http: hc, site: "stackoverflow"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *restClient) params() map[string]string {
	p := map[string]string{"site": c.site}
	if c.key != "" {
		p["key"] = c.key
	}
	return p
}

func (c *restClient) Search(ctx context.Context, query string, limit int) ([]Question, error) {
	if limit <= 0 {
		limit = 5
	}
	var out wrapper[Question]
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.params()).
		SetQueryParams(map[string]string{
			"order":    "desc",
			"sort":     "relevance",
			"intitle":  query,
			"pagesize": strconv.Itoa(limit),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/search")
	if err != nil {
		return nil, eris.Wrap(err, "stackexchange: search")
	}
	if err := checkResponse(res, out); err != nil {
		return nil, eris.Wrap(err, "stackexchange: search")
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
	}
	return out.Items, nil
}

// answersPageSize is the API maximum. One page covers the answers of all
// requested questions in the common case.
const answersPageSize = 100

func (c *restClient) Answers(ctx context.Context, questionIDs []int64) ([]Answer, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(questionIDs))
	for i, id := range questionIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var out wrapper[Answer]
	res, err := c.http.R().
		SetContext(ctx).
		SetRawPathParam("ids", strings.Join(ids, ";")).
		SetQueryParams(c.params()).
		SetQueryParams(map[string]string{
			"order":    "desc",
			"sort":     "votes",
			"filter":   "withbody",
			"pagesize": strconv.Itoa(answersPageSize),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/questions/{ids}/answers")
	if err != nil {
		return nil, eris.Wrap(err, "stackexchange: answers")
	}
	if err := checkResponse(res, out); err != nil {
		return nil, eris.Wrap(err, "stackexchange: answers")
	}
	return out.Items, nil
}

// checkResponse turns API failures into errors. Statuses worth retrying
// come back as *resilience.TransientError.
func checkResponse[T any](res *resty.Response, body wrapper[T]) error {
	if !res.IsError() && body.ErrorID == 0 {
		return nil
	}
	var err error
	if body.ErrorID != 0 {
		err = eris.Errorf("status %d: %s (%d): %s", res.StatusCode(), body.ErrorName, body.ErrorID, body.ErrorMessage)
	} else {
		err = eris.Errorf("status %d: %s", res.StatusCode(), res.String())
	}
	if resilience.IsTransientHTTPStatus(res.StatusCode()) {
		return resilience.NewTransientError(err, res.StatusCode())
	}
	return err
}
