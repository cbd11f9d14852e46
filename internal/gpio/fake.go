package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// FakeWatcher is a test double with scriptable pin levels.
// Safe for concurrent use: pipelines read while tests drive levels.
type FakeWatcher struct {
	mu sync.Mutex

	levels map[int]bool
	subs   map[int]chan logic.Sample

	// ReadErrors, if set for a pin, is returned by Read.
	ReadErrors map[int]error

	// SubscribeErrors, if set for a pin, is returned by Subscribe.
	SubscribeErrors map[int]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeWatcher creates a FakeWatcher with the given initial levels.
func NewFakeWatcher(levels map[int]bool) *FakeWatcher {
	f := &FakeWatcher{
		levels:          make(map[int]bool),
		subs:            make(map[int]chan logic.Sample),
		ReadErrors:      make(map[int]error),
		SubscribeErrors: make(map[int]error),
	}
	for pin, l := range levels {
		f.levels[pin] = l
	}
	return f
}

// Read returns the scripted level for pin.
func (f *FakeWatcher) Read(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ReadErrors[pin]; err != nil {
		return false, err
	}
	level, ok := f.levels[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not configured", pin)
	}
	return level, nil
}

// Subscribe registers a sample channel for pin.
func (f *FakeWatcher) Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Closed {
		return nil, errors.New("watcher closed")
	}
	if err := f.SubscribeErrors[pin]; err != nil {
		return nil, err
	}
	if _, ok := f.levels[pin]; !ok {
		return nil, fmt.Errorf("pin %d not configured", pin)
	}
	ch := make(chan logic.Sample, sampleBuffer)
	f.subs[pin] = ch
	return ch, nil
}

// Set changes the level returned by Read without emitting a sample.
func (f *FakeWatcher) Set(pin int, level bool) {
	f.mu.Lock()
	f.levels[pin] = level
	f.mu.Unlock()
}

// SetReadError makes Read fail for pin; nil clears it.
func (f *FakeWatcher) SetReadError(pin int, err error) {
	f.mu.Lock()
	f.ReadErrors[pin] = err
	f.mu.Unlock()
}

// SetSubscribeError makes Subscribe fail for pin; nil clears it.
func (f *FakeWatcher) SetSubscribeError(pin int, err error) {
	f.mu.Lock()
	f.SubscribeErrors[pin] = err
	f.mu.Unlock()
}

// Emit sets the level and sends a sample to the pin's subscriber, if any.
// Returns false when nobody is subscribed.
func (f *FakeWatcher) Emit(pin int, level bool, at time.Time) bool {
	f.mu.Lock()
	f.levels[pin] = level
	ch, ok := f.subs[pin]
	f.mu.Unlock()

	if !ok {
		return false
	}
	ch <- logic.Sample{Pin: pin, Level: level, Time: at}
	return true
}

// EndSubscription closes pin's sample channel, as a watcher does when a
// line is lost. Returns false when nobody is subscribed.
func (f *FakeWatcher) EndSubscription(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[pin]
	if !ok {
		return false
	}
	close(ch)
	delete(f.subs, pin)
	return true
}

// Subscribed reports whether pin has a subscriber.
func (f *FakeWatcher) Subscribed(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[pin]
	return ok
}

// Close marks the watcher as closed and closes all subscriber channels.
func (f *FakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return nil
	}
	f.Closed = true
	for pin, ch := range f.subs {
		close(ch)
		delete(f.subs, pin)
	}
	return nil
}
