package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// mirrorBuffer bounds messages waiting for the publisher.
const mirrorBuffer = 64

type mirrorMsg struct {
	space    *SpaceState
	delivery *DeliveryReport
}

// Mirror forwards pipeline results to a Publisher. It implements
// dispatch.Reporter; reporter calls only enqueue, so a slow broker never
// stalls a pipeline. Messages are dropped when the queue is full.
type Mirror struct {
	pub    Publisher
	lot    string
	logger *slog.Logger
	msgs   chan mirrorMsg
}

// NewMirror creates a Mirror. Call Run to start publishing.
func NewMirror(pub Publisher, lot string, logger *slog.Logger) *Mirror {
	return &Mirror{
		pub:    pub,
		lot:    lot,
		logger: logger,
		msgs:   make(chan mirrorMsg, mirrorBuffer),
	}
}

// Run publishes queued messages until ctx is done, then flushes whatever is
// already queued.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-m.msgs:
					m.publish(msg)
				default:
					return nil
				}
			}
		case msg := <-m.msgs:
			m.publish(msg)
		}
	}
}

func (m *Mirror) publish(msg mirrorMsg) {
	var err error
	switch {
	case msg.space != nil:
		err = m.pub.PublishSpace(*msg.space)
	case msg.delivery != nil:
		err = m.pub.PublishDelivery(*msg.delivery)
	}
	if err != nil {
		m.logger.Warn("mqtt_publish_failed", "error", err)
	}
}

func (m *Mirror) enqueue(msg mirrorMsg, spot string) {
	select {
	case m.msgs <- msg:
	default:
		m.logger.Warn("mqtt_mirror_dropped", "spot", spot)
	}
}

// StateConfirmed queues a retained space state message.
func (m *Mirror) StateConfirmed(in logic.MonitoredInput, kind logic.Kind, at time.Time) {
	m.enqueue(mirrorMsg{space: &SpaceState{Lot: m.lot, Spot: in.Label, Kind: kind, Since: at}}, in.Label)
}

// DeliveryFinished queues a delivery report.
func (m *Mirror) DeliveryFinished(in logic.MonitoredInput, res delivery.Result) {
	d := DeliveryReport{
		EventID:  res.Event.ID,
		Lot:      res.Event.Lot,
		Spot:     in.Label,
		Kind:     res.Event.Kind,
		Outcome:  res.Outcome.String(),
		Attempts: len(res.Attempts),
		Time:     res.Event.Time,
	}
	if res.Err != nil {
		d.Error = res.Err.Error()
	}
	m.enqueue(mirrorMsg{delivery: &d}, in.Label)
}

// EventDropped is a no-op; drops are visible in logs and metrics.
func (m *Mirror) EventDropped(logic.MonitoredInput, logic.Event, string) {}

// PipelineStopped is a no-op.
func (m *Mirror) PipelineStopped(logic.MonitoredInput, error) {}
