package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// Outcome is the terminal result of delivering one event.
type Outcome int

const (
	Delivered Outcome = iota + 1
	RetriesExhausted
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RetriesExhausted:
		return "retries_exhausted"
	case Abandoned:
		return "abandoned"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// AttemptOutcome classifies a single request.
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptTransient AttemptOutcome = "transient"
	AttemptPermanent AttemptOutcome = "permanent"
)

var (
	// ErrTransient wraps failures worth retrying: network errors, timeouts, 5xx.
	ErrTransient = errors.New("transient delivery failure")
	// ErrPermanent wraps failures a retry cannot fix, such as a 4xx.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrCancelled marks a delivery abandoned because the context ended.
	ErrCancelled = errors.New("delivery cancelled")
	// ErrWaitExceeded marks retries stopped by the total wait ceiling.
	ErrWaitExceeded = errors.New("maximum total wait exceeded")
)

// StatusError is a non-2xx response from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("endpoint returned %d: %s", e.Code, e.Body)
}

// Attempt records one request made for an event.
type Attempt struct {
	Number     int
	Outcome    AttemptOutcome
	StatusCode int
	Err        error
	// Delay is the backoff wait that preceded this attempt.
	Delay   time.Duration
	Elapsed time.Duration
}

// Result is everything known about an event's delivery.
type Result struct {
	Event    logic.Event
	Outcome  Outcome
	Attempts []Attempt
	// Body is the endpoint's response text on success.
	Body    string
	Err     error
	Elapsed time.Duration
}
