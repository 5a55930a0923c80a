package segment

import (
	"errors"
	"fmt"

	"github.com/MrWong99/murmur/internal/observe"
)

var (
	// ErrNoSpeech is returned when no frame was classified as speech. It is
	// an outcome, not a failure: callers typically fall back to the raw
	// recording.
	ErrNoSpeech = errors.New("segment: no speech detected")

	// ErrPrecondition is matched by every [*PreconditionError].
	ErrPrecondition = errors.New("segment: precondition failed")

	// ErrClassifier wraps errors returned by the classifier.
	ErrClassifier = errors.New("segment: classifier failed")
)

// PreconditionError reports an input the segmenter refuses to process. It is
// always returned before any frame is classified.
type PreconditionError struct {
	// Field names the offending property: "sample_rate", "sample_width",
	// "channels" or "input".
	Field string

	// Got and Want describe the mismatch. Want is zero for "input" and
	// "channels".
	Got, Want int

	// Err is the underlying cause, if any (e.g. a read failure).
	Err error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("segment: precondition failed: %s: %v", e.Field, e.Err)
	}
	if e.Field == "channels" {
		return fmt.Sprintf("segment: precondition failed: channels is %d, want 1 or 2", e.Got)
	}
	return fmt.Sprintf("segment: precondition failed: %s is %d, want %d", e.Field, e.Got, e.Want)
}

// Unwrap exposes both [ErrPrecondition] and the underlying cause.
func (e *PreconditionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPrecondition}
	}
	return []error{ErrPrecondition, e.Err}
}

// Outcome maps the error returned by [Segmenter.SegmentFile] to one of the
// observe.Outcome* labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeSpeech
	case errors.Is(err, ErrNoSpeech):
		return observe.OutcomeNoSpeech
	case errors.Is(err, ErrPrecondition):
		return observe.OutcomePrecondition
	default:
		return observe.OutcomeError
	}
}
