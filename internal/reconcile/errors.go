package reconcile

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned by Run when another pass holds the run-lock.
var ErrRunInProgress = errors.New("reconciliation pass already in progress")

// ConfigurationError reports options or calendars that cannot be used.
// Nothing is mutated when a pass fails with it.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// GatewayError reports a failed calendar gateway call.
type GatewayError struct {
	Op         string // list, create, update, delete
	CalendarID string
	EventID    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s event %s on calendar %s: %v", e.Op, e.EventID, e.CalendarID, e.Err)
	}
	return fmt.Sprintf("%s on calendar %s: %v", e.Op, e.CalendarID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// RunError aggregates the per-event failures of a pass that kept going.
type RunError struct {
	Failures []*GatewayError
}

func (e *RunError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	return fmt.Sprintf("%d gateway operations failed, first: %v", len(e.Failures), e.Failures[0])
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
