package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind tags an error with its place in the scrape failure taxonomy so callers
// can branch on recoverability without inspecting messages.
type Kind string

const (
	KindNoAccountsAvailable Kind = "no_accounts_available"
	KindUnauthenticated     Kind = "unauthenticated"
	KindNavigation          Kind = "navigation_error"
	KindNoResultsFound      Kind = "no_results_found"
	KindNoAnswerExtracted   Kind = "no_answer_extracted"
	KindValidation          Kind = "validation_error"
	KindClassification      Kind = "classification_error"
	KindSummarization       Kind = "summarization_error"
	KindStorage             Kind = "storage_error"
	KindAllSourcesFailed    Kind = "all_sources_failed"
	KindUnknown             Kind = "unknown"
)

// Error is a tagged error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a tagged error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any tagged error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRecoverable reports whether err is an expected empty outcome rather than
// a failure. Only an empty result list qualifies.
func IsRecoverable(err error) bool {
	return KindOf(err) == KindNoResultsFound
}
