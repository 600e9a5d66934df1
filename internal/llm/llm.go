// Package llm implements question classification and answer summarization
// on top of the Anthropic Messages API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/config"
	"github.com/sells-group/qa-scraper/internal/model"
	"github.com/sells-group/qa-scraper/internal/resilience"
	"github.com/sells-group/qa-scraper/pkg/anthropic"
)

const classifyPrompt = `Categorize the following question into one of these categories:
- programming
- technology
- science
- health
- education
- general

Return ONLY the category name, nothing else.

Question: %s`

const summarizePrompt = `Summarize the following responses to create a comprehensive answer:

%s

Provide a well-structured summary that:
1. Addresses the main question directly
2. Includes key points from all sources
3. Resolves any contradictions between sources
4. Is clear and concise (around 250 words)`

// Classifier assigns a Category to question text.
type Classifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// Summarizer turns concatenated answers into one summary.
type Summarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewClassifier creates a Classifier from config.
func NewClassifier(client anthropic.Client, cfg config.AnthropicConfig, retry resilience.RetryConfig) *Classifier {
	return &Classifier{client: client, model: cfg.ClassifyModel, maxTokens: cfg.ClassifyTokens, retry: withRetryPolicy(retry, "classify")}
}

// NewSummarizer creates a Summarizer from config.
func NewSummarizer(client anthropic.Client, cfg config.AnthropicConfig, retry resilience.RetryConfig) *Summarizer {
	return &Summarizer{client: client, model: cfg.SummaryModel, maxTokens: cfg.SummaryTokens, retry: withRetryPolicy(retry, "summarize")}
}

// Classify returns the question's category. Output outside the known set
// is treated as general; only a failed API call is an error.
func (c *Classifier) Classify(ctx context.Context, text string) (model.Category, error) {
	if strings.TrimSpace(text) == "" {
		return "", model.Errorf(model.KindClassification, "llm.classify", "question text is empty")
	}

	temp := 0.0
	resp, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return "", model.Wrap(model.KindClassification, "llm.classify", eris.Wrap(err, "llm: classify"))
	}
	resp.Usage.Log(c.model, "classify")

	raw := resp.Text()
	cat, ok := model.ParseCategory(firstWord(raw))
	if !ok {
		zap.L().Warn("llm: classifier returned unknown category, using general", zap.String("raw", raw))
		return model.CategoryGeneral, nil
	}
	return cat, nil
}

// Summarize returns the model's summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", model.Errorf(model.KindSummarization, "llm.summarize", "nothing to summarize")
	}

	resp, err := resilience.Do(ctx, s.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			Messages:  []anthropic.Message{{Role: "user", Content: fmt.Sprintf(summarizePrompt, text)}},
		})
	})
	if err != nil {
		return "", model.Wrap(model.KindSummarization, "llm.summarize", eris.Wrap(err, "llm: summarize"))
	}
	resp.Usage.Log(s.model, "summarize")

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", model.Errorf(model.KindSummarization, "llm.summarize", "empty summary (stop reason %q)", resp.StopReason)
	}
	return out, nil
}

// firstWord strips punctuation and trailing commentary from a one-word
// classifier reply such as "Programming." or "science\n".
func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func withRetryPolicy(cfg resilience.RetryConfig, op string) resilience.RetryConfig {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = retryable
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("anthropic", op)
	}
	return cfg
}

// retryable reports whether an Anthropic error is worth another attempt.
func retryable(err error) bool {
	if code := anthropic.StatusCode(err); code != 0 {
		return resilience.IsTransientHTTPStatus(code)
	}
	return resilience.IsTransient(err)
}
