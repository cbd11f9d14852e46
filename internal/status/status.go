// Package status provides a thread-safe view of every monitored space for
// the HTTP status page and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Lot         string
	Endpoint    string
	GPIOMode    string
	DebounceMs  int64
	HeartbeatMs int64
	MaxAttempts int
	Broker      string
	HTTPAddr    string
}

// DeliveryCounts tallies terminal delivery results for one space.
type DeliveryCounts struct {
	Delivered        int
	RetriesExhausted int
	Abandoned        int
	Dropped          int
}

// Space is the state of one monitored input.
type Space struct {
	Pin      int
	Label    string
	Polarity logic.Polarity

	// Kind is the last confirmed occupancy; empty until the baseline.
	Kind   logic.Kind
	Since  time.Time
	Counts logic.EventCounts

	Delivery      DeliveryCounts
	LastOutcome   string
	LastError     string
	LastAttempts  int
	LastDelivered time.Time

	// PipelineError is set while the input's pipeline is stopped.
	PipelineError string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Spaces        []Space
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether every space has a baseline and a running pipeline.
func (s Snapshot) Ready() bool {
	if len(s.Spaces) == 0 {
		return false
	}
	for _, sp := range s.Spaces {
		if sp.Kind == "" || sp.PipelineError != "" {
			return false
		}
	}
	return true
}

// Totals sums event counts across spaces.
func (s Snapshot) Totals() logic.EventCounts {
	var c logic.EventCounts
	for _, sp := range s.Spaces {
		c.Occupied += sp.Counts.Occupied
		c.Vacated += sp.Counts.Vacated
	}
	return c
}

// Occupied returns how many spaces are currently occupied.
func (s Snapshot) Occupied() int {
	n := 0
	for _, sp := range s.Spaces {
		if sp.Kind == logic.KindOccupied {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// dispatch.Reporter.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	byPin map[int]int
	nowFn func() time.Time
}

// NewTracker creates a Tracker for inputs with the given start time and config.
func NewTracker(startTime time.Time, cfg Config, inputs []logic.MonitoredInput) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Spaces:    make([]Space, len(inputs)),
		},
		byPin: make(map[int]int, len(inputs)),
		nowFn: time.Now,
	}
	for i, in := range inputs {
		t.snap.Spaces[i] = Space{Pin: in.Pin, Label: in.Label, Polarity: in.Polarity}
		t.byPin[in.Pin] = i
	}
	return t
}

// update runs fn on the space for pin, if it is tracked.
func (t *Tracker) update(pin int, fn func(*Space)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.byPin[pin]; ok {
		fn(&t.snap.Spaces[i])
	}
}

// StateConfirmed records the baseline or a confirmed transition. Only real
// changes are counted.
func (t *Tracker) StateConfirmed(in logic.MonitoredInput, kind logic.Kind, at time.Time) {
	t.update(in.Pin, func(sp *Space) {
		sp.PipelineError = ""
		if sp.Kind == kind {
			return
		}
		if sp.Kind != "" {
			switch kind {
			case logic.KindOccupied:
				sp.Counts.Occupied++
			case logic.KindVacated:
				sp.Counts.Vacated++
			}
		}
		sp.Kind = kind
		sp.Since = at
	})
}

// EventDropped counts a dropped event against its space.
func (t *Tracker) EventDropped(in logic.MonitoredInput, ev logic.Event, reason string) {
	t.update(in.Pin, func(sp *Space) { sp.Delivery.Dropped++ })
}

// DeliveryFinished records the latest delivery result for the space.
func (t *Tracker) DeliveryFinished(in logic.MonitoredInput, res delivery.Result) {
	t.update(in.Pin, func(sp *Space) {
		switch res.Outcome {
		case delivery.Delivered:
			sp.Delivery.Delivered++
			sp.LastDelivered = res.Event.Time
		case delivery.RetriesExhausted:
			sp.Delivery.RetriesExhausted++
		case delivery.Abandoned:
			sp.Delivery.Abandoned++
		}
		sp.LastOutcome = res.Outcome.String()
		sp.LastAttempts = len(res.Attempts)
		sp.LastError = ""
		if res.Err != nil {
			sp.LastError = res.Err.Error()
		}
	})
}

// PipelineStopped records the error that stopped the space's pipeline.
func (t *Tracker) PipelineStopped(in logic.MonitoredInput, err error) {
	t.update(in.Pin, func(sp *Space) {
		sp.PipelineError = "stopped"
		if err != nil {
			sp.PipelineError = err.Error()
		}
	})
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Spaces = append([]Space(nil), t.snap.Spaces...)
	t.mu.RUnlock()
	s.Now = t.nowFn()
	return s
}
