package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// errSourceClosed is returned when the sample channel closes while the
// pipeline is still supposed to run.
var errSourceClosed = errors.New("sample source closed")

// pipeline is one input's debounce -> map -> deliver chain. The sensor
// half never waits on delivery; the delivery half handles one event at a
// time in confirmation order.
type pipeline struct {
	d      *Dispatcher
	in     logic.MonitoredInput
	deb    *logic.Debouncer
	queue  *queue
	logger *slog.Logger

	baselineReported bool
}

// newPipeline builds a pipeline for in. A known last state from a previous
// run seeds the debouncer, so a level that changed while the pipeline was
// down is confirmed and delivered instead of becoming a silent baseline.
func newPipeline(d *Dispatcher, in logic.MonitoredInput, last logic.State) *pipeline {
	deb := logic.NewDebouncer(in)
	deb.Seed(last)
	return &pipeline{
		d:                d,
		in:               in,
		deb:              deb,
		queue:            newQueue(d.queueDepth),
		logger:           d.logger.With("pin", in.Pin, "spot", in.Label),
		baselineReported: deb.Baselined(),
	}
}

// confirmed returns the last confirmed state. Only valid once run returns.
func (p *pipeline) confirmed() logic.State {
	return p.deb.Current()
}

// run runs both halves until ctx ends or either half fails; a failure
// cancels the other half so the pipeline stops as a unit.
func (p *pipeline) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return guard("sensor", func() error { return p.sense(gctx) }) })
	g.Go(func() error { return guard("delivery", func() error { return p.deliver(gctx) }) })
	return g.Wait()
}

func (p *pipeline) sense(ctx context.Context) error {
	samples, err := p.d.source.Subscribe(ctx, p.in.Pin)
	if err != nil {
		return fmt.Errorf("subscribe pin %d: %w", p.in.Pin, err)
	}
	p.logger.Info("pipeline_started", "debounce", p.in.Debounce, "polarity", p.in.Polarity)

	// Seed with the current level so the baseline does not wait for an edge.
	p.resample()

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	var resync <-chan time.Time
	if p.d.resync > 0 {
		t := time.NewTicker(p.d.resync)
		defer t.Stop()
		resync = t.C
	}

	for {
		var deadline <-chan time.Time
		if at, ok := p.deb.Deadline(); ok {
			timer.Reset(at.Sub(p.d.now()))
			deadline = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-samples:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errSourceClosed
			}
			p.handle(s)
		case <-deadline:
			p.resample()
		case <-resync:
			p.resample()
		}

		if deadline != nil {
			stopTimer(timer)
		}
	}
}

// resample feeds the pin's current level through the debouncer. Edge
// watchers stay silent while a level is held, so confirmation needs a read
// at the debounce deadline.
func (p *pipeline) resample() {
	level, err := p.d.source.Read(p.in.Pin)
	if err != nil {
		p.logger.Warn("gpio_read_error", "error", err)
		return
	}
	p.handle(logic.Sample{Pin: p.in.Pin, Level: level, Time: p.d.now()})
}

func (p *pipeline) handle(s logic.Sample) {
	tr, confirmed, err := p.deb.Process(s)
	if err != nil {
		p.logger.Warn("sample_dropped", "error", err, "sample_time", s.Time)
		return
	}

	if !confirmed {
		if !p.baselineReported && p.deb.Baselined() {
			p.baselineReported = true
			if kind, err := logic.KindFor(p.deb.Current(), p.in.Polarity); err == nil {
				p.logger.Info("baseline", "state", p.deb.Current(), "kind", kind)
				p.d.reporter.StateConfirmed(p.in, kind, s.Time)
			}
		}
		return
	}
	p.baselineReported = true

	ev, err := logic.Map(tr, p.in, p.d.lot, p.d.newID())
	if err != nil {
		// Polarity is validated at startup; this means a programming error.
		p.logger.Error("map_failed", "error", err)
		return
	}

	p.logger.Info("transition", "state", tr.State, "event", ev.Kind.WireValue(), "event_id", ev.ID)
	p.d.reporter.StateConfirmed(p.in, ev.Kind, ev.Time)

	for _, old := range p.queue.push(ev) {
		p.logger.Warn("event_dropped", "reason", DropQueueFull, "event_id", old.ID, "event", old.Kind.WireValue())
		p.d.reporter.EventDropped(p.in, old, DropQueueFull)
	}
}

func (p *pipeline) deliver(ctx context.Context) error {
	for {
		ev, ok := p.queue.pop(ctx)
		if !ok {
			p.discard()
			return nil
		}
		res := p.d.client.Deliver(ctx, ev)
		p.d.reporter.DeliveryFinished(p.in, res)
	}
}

// discard drops queued events at shutdown. There is no replay: the next
// transition after restart carries the current state.
func (p *pipeline) discard() {
	left := p.queue.drain()
	if len(left) == 0 {
		return
	}
	p.logger.Warn("events_discarded", "count", len(left), "reason", DropShutdown)
	for _, ev := range left {
		p.d.reporter.EventDropped(p.in, ev, DropShutdown)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// guard converts a panic into an error so one input cannot take the
// process down.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panic: %v", name, r)
		}
	}()
	return fn()
}
