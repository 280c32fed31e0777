package llm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a summarization failure
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindMalformedResponse ErrorKind = "malformed-response"
)

// SummarizationError is returned by every failed remote call. StatusCode is
// set when the endpoint answered with a non-2xx status.
type SummarizationError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SummarizationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *SummarizationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *SummarizationError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *SummarizationError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, err error) *SummarizationError {
	return &SummarizationError{Kind: kind, Message: msg, Err: err}
}
