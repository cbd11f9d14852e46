package logic

import "time"

// Debouncer tracks one input's level and detects debounced transitions.
// Not safe for concurrent use; each pipeline owns one.
type Debouncer struct {
	pin      int
	window   time.Duration
	quiet    bool
	announce bool

	stable    State
	baselined bool

	pending      State
	pendingSince time.Time

	lastSample time.Time
}

// NewDebouncer creates a debouncer for the given input.
func NewDebouncer(in MonitoredInput) *Debouncer {
	return &Debouncer{
		pin:      in.Pin,
		window:   in.Debounce,
		quiet:    in.InitialQuiet,
		announce: in.AnnounceBaseline,
	}
}

// Seed marks the debouncer as baselined at state without announcing it.
// A later sample at a different level then confirms through the normal
// window. StateUnknown is ignored.
func (d *Debouncer) Seed(state State) {
	if state != StateAsserted && state != StateDeasserted {
		return
	}
	d.stable = state
	d.baselined = true
	d.pending = StateUnknown
}

// Process takes a raw sample and returns a transition if one was confirmed.
// A non-nil error means the sample was dropped; it is never fatal.
func (d *Debouncer) Process(s Sample) (Transition, bool, error) {
	if s.Time.IsZero() {
		return Transition{}, false, ErrMissingTimestamp
	}
	if !d.lastSample.IsZero() && s.Time.Before(d.lastSample) {
		return Transition{}, false, ErrOutOfOrder
	}
	d.lastSample = s.Time

	state := levelToState(s.Level)

	if !d.baselined {
		return d.processBaseline(state, s.Time)
	}

	if state == d.stable {
		// Noise: the level came back before the window elapsed.
		d.pending = StateUnknown
		return Transition{}, false, nil
	}

	if d.pending != state {
		d.pending = state
		d.pendingSince = s.Time
	}

	if s.Time.Sub(d.pendingSince) >= d.window {
		return d.confirm(s.Time), true, nil
	}
	return Transition{}, false, nil
}

func (d *Debouncer) processBaseline(state State, now time.Time) (Transition, bool, error) {
	if d.quiet {
		if d.pending != state {
			d.pending = state
			d.pendingSince = now
		}
		if now.Sub(d.pendingSince) < d.window {
			return Transition{}, false, nil
		}
	} else {
		d.pending = state
	}

	tr := d.confirm(now)
	d.baselined = true
	return tr, d.announce, nil
}

func (d *Debouncer) confirm(now time.Time) Transition {
	d.stable = d.pending
	d.pending = StateUnknown
	return Transition{Pin: d.pin, State: d.stable, Time: now}
}

// Deadline returns the time at which the pending level would confirm if
// it is still held. ok is false when nothing is pending.
func (d *Debouncer) Deadline() (deadline time.Time, ok bool) {
	if d.pending == StateUnknown {
		return time.Time{}, false
	}
	return d.pendingSince.Add(d.window), true
}

// Baselined reports whether the first stable state has been established.
func (d *Debouncer) Baselined() bool {
	return d.baselined
}

// Current returns the last confirmed state.
func (d *Debouncer) Current() State {
	return d.stable
}

func levelToState(high bool) State {
	if high {
		return StateAsserted
	}
	return StateDeasserted
}
