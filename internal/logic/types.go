// Package logic contains the pure parking-space business logic: debouncing raw
// pin levels and mapping stable transitions to occupancy events.
// This package has NO external dependencies (no GPIO, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"
)

// State is the debounced logical state of an input.
type State string

const (
	StateUnknown    State = ""
	StateAsserted   State = "ASSERTED"
	StateDeasserted State = "DEASSERTED"
)

// Kind is the occupancy event derived from a state transition.
type Kind string

const (
	KindOccupied Kind = "OCCUPIED"
	KindVacated  Kind = "VACATED"
)

// WireValue returns the parkingSpaceEvent literal the parking map expects.
func (k Kind) WireValue() string {
	switch k {
	case KindOccupied:
		return "OCCUPY"
	case KindVacated:
		return "VACATE"
	}
	return ""
}

// Polarity says which logical state means the space is occupied.
type Polarity string

const (
	// ActiveHigh: pin high = occupied. Matches pull-down wiring where an idle
	// (low) pin reports VACATE.
	ActiveHigh Polarity = "active-high"
	ActiveLow  Polarity = "active-low"
)

// ParsePolarity validates a polarity string. Empty means ActiveHigh.
func ParsePolarity(s string) (Polarity, error) {
	switch Polarity(s) {
	case "", ActiveHigh:
		return ActiveHigh, nil
	case ActiveLow:
		return ActiveLow, nil
	}
	return "", ErrUnmapped
}

// MonitoredInput is one configured sensor pin. Immutable after startup.
type MonitoredInput struct {
	Pin      int
	Label    string
	Polarity Polarity
	Debounce time.Duration
	// InitialQuiet requires the first level to be held for Debounce before it
	// becomes the baseline.
	InitialQuiet bool
	// AnnounceBaseline emits the baseline as a transition.
	AnnounceBaseline bool
}

// Sample is one raw level observation.
type Sample struct {
	Pin   int
	Level bool // true = high
	Time  time.Time
}

// Transition is a confirmed change of logical state.
type Transition struct {
	Pin   int
	State State
	Time  time.Time
}

// Event is a domain occupancy event ready for delivery.
type Event struct {
	ID   string
	Lot  string
	Spot string
	Kind Kind
	Time time.Time
}

var (
	// ErrMissingTimestamp marks a sample without a time. Non-fatal.
	ErrMissingTimestamp = errors.New("sample has no timestamp")
	// ErrOutOfOrder marks a sample older than the previous one. Non-fatal.
	ErrOutOfOrder = errors.New("sample timestamp out of order")
	// ErrUnmapped marks a state or polarity the mapper cannot translate.
	ErrUnmapped = errors.New("unmapped state")
)

// EventCounts tracks confirmed events per kind since startup.
type EventCounts struct {
	Occupied int
	Vacated  int
}
