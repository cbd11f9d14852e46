// Package dispatch runs one independent sensor-to-delivery pipeline per
// monitored input.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logging"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// Source is the hardware-watching collaborator. gpio.Watcher satisfies it.
type Source interface {
	Read(pin int) (bool, error)
	Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error)
}

// Deliverer sends one event and reports its terminal result.
// delivery.Client satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, ev logic.Event) delivery.Result
}

// Dispatcher owns the pipelines for every configured input.
type Dispatcher struct {
	lot    string
	inputs []logic.MonitoredInput
	source Source
	client Deliverer

	reporter     Reporter
	logger       *slog.Logger
	queueDepth   int
	resync       time.Duration
	restartDelay time.Duration
	now          func() time.Time
	newID        func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReporter sets the result reporter.
func WithReporter(r Reporter) Option {
	return func(d *Dispatcher) { d.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithQueueDepth bounds each input's pending delivery backlog.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) { d.queueDepth = n }
}

// WithResync re-reads every pin on this interval to recover from missed
// edges. Zero disables.
func WithResync(interval time.Duration) Option {
	return func(d *Dispatcher) { d.resync = interval }
}

// WithRestartDelay restarts a failed pipeline after the delay. Zero
// leaves a failed pipeline stopped.
func WithRestartDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.restartDelay = delay }
}

// WithClock replaces time.Now for resampled levels.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDs replaces the event ID generator.
func WithIDs(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// New creates a Dispatcher. Inputs are assumed validated.
func New(lot string, inputs []logic.MonitoredInput, source Source, client Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lot:        lot,
		inputs:     inputs,
		source:     source,
		client:     client,
		reporter:   Reporters{},
		logger:     logging.Discard(),
		queueDepth: 16,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts every pipeline and blocks until ctx is cancelled and all of
// them have stopped. A failing pipeline is reported and, if configured,
// restarted; it never stops the others.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.inputs) == 0 {
		return errors.New("dispatch: no inputs configured")
	}
	if d.source == nil || d.client == nil {
		return errors.New("dispatch: source and client are required")
	}

	var g errgroup.Group
	for _, in := range d.inputs {
		in := in
		g.Go(func() error {
			d.supervise(ctx, in)
			return nil
		})
	}
	d.logger.Info("dispatcher_started", "inputs", len(d.inputs), "lot", d.lot)
	err := g.Wait()
	d.logger.Info("dispatcher_stopped")
	return err
}

func (d *Dispatcher) supervise(ctx context.Context, in logic.MonitoredInput) {
	last := logic.StateUnknown
	for {
		p := newPipeline(d, in, last)
		err := p.run(ctx)
		last = p.confirmed()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("pipeline exited")
		}

		d.logger.Error("pipeline_stopped", "pin", in.Pin, "spot", in.Label, "error", err)
		d.reporter.PipelineStopped(in, err)

		if d.restartDelay <= 0 {
			return
		}
		t := time.NewTimer(d.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		d.logger.Info("pipeline_restarting", "pin", in.Pin, "spot", in.Label)
	}
}
