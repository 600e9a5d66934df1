// Package scrape extracts answers from Q&A sites. One adapter-driven
// extractor walks every browser source through the same state machine;
// adapters only supply locators.
package scrape

import (
	"context"

	"github.com/sells-group/qa-scraper/internal/model"
)

// Extractor produces Responses for one question from one source.
type Extractor interface {
	// Name is the routing key, e.g. "stackoverflow".
	Name() string
	// Extract runs to completion and reports how far it got. It never
	// panics on site errors; failures are carried in Outcome.Err.
	Extract(ctx context.Context, questionID, query string) Outcome
}

// State is a step of the extraction state machine.
type State string

const (
	StateInit           State = "INIT"
	StateAuthenticated  State = "AUTHENTICATED"
	StateSearched       State = "SEARCHED"
	StateCaptchaWait    State = "CAPTCHA_WAIT"
	StateLinksCollected State = "LINKS_COLLECTED"
	StateExtracting     State = "EXTRACTING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Miss records a collected link that produced no answer.
type Miss struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Outcome is the result of one extraction run.
type Outcome struct {
	Source    string           `json:"source"`
	State     State            `json:"state"`
	Trail     []State          `json:"trail"`
	Links     []string         `json:"links,omitempty"`
	Responses []model.Response `json:"responses"`
	Misses    []Miss           `json:"misses,omitempty"`
	Err       error            `json:"-"`
}

// Failed reports whether the run ended in FAILED.
func (o *Outcome) Failed() bool { return o.State == StateFailed }

// Empty reports a run that found no result links. It is not a failure.
func (o *Outcome) Empty() bool {
	return o.State == StateDone && model.IsRecoverable(o.Err)
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

func (o *Outcome) fail(err error) Outcome {
	o.enter(StateFailed)
	o.Err = err
	return *o
}
