//go:build linux

package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// RealWatcher reads GPIO from actual hardware using the Linux GPIO character device.
type RealWatcher struct {
	chip   *gpiocdev.Chip
	lines  map[int]*gpiocdev.Line
	events map[int]chan logic.Sample
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewRealWatcher opens chip and requests every pin as an input. With edges
// set, both-edge events are delivered through Subscribe; otherwise the
// watcher only supports Read and should be wrapped in a PollingWatcher.
func NewRealWatcher(chipName string, pins []PinConfig, edges bool, logger *slog.Logger) (*RealWatcher, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	w := &RealWatcher{
		chip:   chip,
		lines:  make(map[int]*gpiocdev.Line, len(pins)),
		events: make(map[int]chan logic.Sample, len(pins)),
		logger: logger,
	}

	for _, p := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, biasOption(p.Bias)}
		if edges {
			ch := make(chan logic.Sample, sampleBuffer)
			w.events[p.Pin] = ch
			opts = append(opts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(w.handler(ch)))
		}

		line, err := chip.RequestLine(p.Pin, opts...)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request pin %d: %w", p.Pin, err)
		}
		w.lines[p.Pin] = line
	}

	return w, nil
}

func biasOption(b Bias) gpiocdev.LineReqOption {
	switch b {
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasDisabled:
		return gpiocdev.WithBiasDisabled
	}
	return gpiocdev.WithPullDown
}

// handler converts kernel edge events into samples. It must not block the
// gpiocdev event goroutine, so a full buffer drops the sample; the
// pipeline's resync read recovers the level.
func (w *RealWatcher) handler(ch chan<- logic.Sample) gpiocdev.EventHandler {
	return func(evt gpiocdev.LineEvent) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return
		}
		s := logic.Sample{
			Pin:   evt.Offset,
			Level: evt.Type == gpiocdev.LineEventRisingEdge,
			Time:  time.Now(),
		}
		select {
		case ch <- s:
		default:
			n := w.dropped.Add(1)
			w.logger.Warn("gpio_sample_dropped", "pin", evt.Offset, "dropped_total", n)
		}
	}
}

// Read returns the raw level of pin.
func (w *RealWatcher) Read(pin int) (bool, error) {
	line, ok := w.lines[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not requested", pin)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// Subscribe returns the edge sample channel for pin. Only one subscriber
// per pin is supported.
func (w *RealWatcher) Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error) {
	src, ok := w.events[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d has no edge events", pin)
	}

	out := make(chan logic.Sample)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (w *RealWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var errs []error
	for pin, line := range w.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	for _, ch := range w.events {
		close(ch)
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
