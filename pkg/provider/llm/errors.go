package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the backend could not be reached at all, e.g. the
	// local server is not started.
	ErrUnavailable = errors.New("llm: backend unavailable")

	// ErrEmptyResponse means the backend answered without a usable choice.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// maxBodyExcerpt bounds the server text kept in a [StatusError].
const maxBodyExcerpt = 200

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	Code int
	Body string
}

// NewStatusError keeps at most the first 200 bytes of body.
func NewStatusError(code int, body string) *StatusError {
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt]
	}
	return &StatusError{Code: code, Body: body}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: status %d", e.Code)
	}
	return fmt.Sprintf("llm: status %d: %s", e.Code, e.Body)
}
