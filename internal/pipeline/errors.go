package pipeline

import "errors"

// ErrMissingModelID is returned when no model identifier was given.
var ErrMissingModelID = errors.New("--model_id is required")

// ErrMissingTasks is returned when no evaluation tasks were given.
var ErrMissingTasks = errors.New("--tasks is required")

// IsMissingModelID reports whether err is caused by an empty model id.
func IsMissingModelID(err error) bool { return errors.Is(err, ErrMissingModelID) }

// stepError tags a failure with the step it happened in.
type stepError struct {
	step string
	err  error
}

func (e stepError) Error() string { return e.step + ": " + e.err.Error() }

func (e stepError) Unwrap() error { return e.err }

// FailedStep returns the name of the step err originated from, if known.
func FailedStep(err error) (string, bool) {
	var se stepError
	if errors.As(err, &se) {
		return se.step, true
	}
	return "", false
}
