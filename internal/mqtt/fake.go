package mqtt

import "sync"

// FakePublisher records published messages for test assertions. Safe for
// concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	spaces         []SpaceState
	deliveries     []DeliveryReport
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	// PublishError, if set, is returned by PublishSpace and PublishDelivery.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	closed    bool
	connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishSpace records the space state.
func (f *FakePublisher) PublishSpace(s SpaceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.spaces = append(f.spaces, s)
	return nil
}

// PublishDelivery records the delivery report.
func (f *FakePublisher) PublishDelivery(d DeliveryReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

// PublishSystem records the system event and its payload.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// Spaces returns a copy of the recorded space states.
func (f *FakePublisher) Spaces() []SpaceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SpaceState(nil), f.spaces...)
}

// Deliveries returns a copy of the recorded delivery reports.
func (f *FakePublisher) Deliveries() []DeliveryReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeliveryReport(nil), f.deliveries...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spaces = nil
	f.deliveries = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.connected = false
	f.PublishError = nil
	f.PublishSystemError = nil
}
