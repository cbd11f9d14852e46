package dispatch

import (
	"time"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// Reporter receives pipeline results for metrics, status and mirrors.
// Implementations must be safe for concurrent use and must not block:
// they are called from every pipeline's goroutines.
type Reporter interface {
	// StateConfirmed is called for the baseline and every confirmed transition.
	StateConfirmed(in logic.MonitoredInput, kind logic.Kind, at time.Time)
	// EventDropped is called for events discarded before delivery.
	EventDropped(in logic.MonitoredInput, ev logic.Event, reason string)
	// DeliveryFinished is called with the terminal result of each delivery.
	DeliveryFinished(in logic.MonitoredInput, res delivery.Result)
	// PipelineStopped is called when a pipeline ends with an error.
	PipelineStopped(in logic.MonitoredInput, err error)
}

// Drop reasons.
const (
	DropQueueFull = "queue_full"
	DropShutdown  = "shutdown"
)

// Reporters fans out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) StateConfirmed(in logic.MonitoredInput, kind logic.Kind, at time.Time) {
	for _, r := range rs {
		r.StateConfirmed(in, kind, at)
	}
}

func (rs Reporters) EventDropped(in logic.MonitoredInput, ev logic.Event, reason string) {
	for _, r := range rs {
		r.EventDropped(in, ev, reason)
	}
}

func (rs Reporters) DeliveryFinished(in logic.MonitoredInput, res delivery.Result) {
	for _, r := range rs {
		r.DeliveryFinished(in, res)
	}
}

func (rs Reporters) PipelineStopped(in logic.MonitoredInput, err error) {
	for _, r := range rs {
		r.PipelineStopped(in, err)
	}
}
