package engine

import (
	stderrors "errors"
	"regexp"
	"strings"

	qferrors "github.com/quotaflow/quotaflow/pkg/errors"
)

// ErrorClass determines how the engine reacts to a failed remote call
type ErrorClass int

const (
	// ErrorClassPermanent fails the item immediately, no retry
	ErrorClassPermanent ErrorClass = iota
	// ErrorClassTransient retries the item with exponential backoff
	ErrorClassTransient
)

// ErrorClassifier decides whether a remote-call failure is worth retrying.
// Callers supply their own to map API-specific error payloads; the engine
// never inspects errors beyond this classification.
type ErrorClassifier func(error) ErrorClass

// transientPatterns match untyped errors from remote clients that do not
// wrap pkg/errors types
var transientPatterns = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"service unavailable",
	"internal server error",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily unavailable",
	"temporary failure",
}

// transientStatusCodes matches throttling and server-fault HTTP status
// codes as whole tokens, so a code embedded in a longer number (an item id,
// a field value) does not flip a permanent error to transient.
var transientStatusCodes = regexp.MustCompile(`\b(429|500|502|503)\b`)

// DefaultClassifier classifies typed errors by their error type and falls
// back to message heuristics for plain errors. Anything unmatched is
// permanent: retrying an unknown failure against a write API risks
// duplicate side effects.
func DefaultClassifier(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if qferrors.IsTransient(err) {
		return ErrorClassTransient
	}

	var typed *qferrors.Error
	if stderrors.As(err, &typed) {
		// Typed but not transient: validation, conflict, not-found, etc.
		return ErrorClassPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorClassTransient
		}
	}
	if transientStatusCodes.MatchString(msg) {
		return ErrorClassTransient
	}

	return ErrorClassPermanent
}
