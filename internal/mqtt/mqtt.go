// Package mqtt mirrors parking space state and daemon lifecycle events to an
// MQTT broker, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// Publisher publishes mirror messages to MQTT. Failures are returned, never
// fatal: the broker is an optional observer of the pipeline.
type Publisher interface {
	// PublishSpace sends the retained current state of one space.
	PublishSpace(s SpaceState) error

	// PublishDelivery sends the terminal result of one endpoint delivery.
	PublishDelivery(d DeliveryReport) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics builds topic names for one lot under a prefix.
type Topics struct {
	Prefix string
	Lot    string
}

// Space is the retained state topic for a space label.
func (t Topics) Space(label string) string {
	return t.base() + "/spaces/" + segment(label)
}

// Delivery is the delivery report topic for a space label.
func (t Topics) Delivery(label string) string {
	return t.Space(label) + "/delivery"
}

// System is the lifecycle topic.
func (t Topics) System() string {
	return t.base() + "/system"
}

func (t Topics) base() string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + segment(t.Lot)
}

// segment makes s safe as a single topic level: lower case, no spaces,
// separators or wildcards.
func segment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '+', '#':
			return '-'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// SpaceState is the debounced state of one space.
type SpaceState struct {
	Lot   string
	Spot  string
	Kind  logic.Kind
	Since time.Time
}

// DeliveryReport is the terminal result of delivering one event.
type DeliveryReport struct {
	EventID  string
	Lot      string
	Spot     string
	Kind     logic.Kind
	Outcome  string
	Attempts int
	Error    string
	Time     time.Time
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SpacePayload is the JSON payload for a space state message.
type SpacePayload struct {
	Space SpacePayloadInner `json:"space"`
}

// SpacePayloadInner contains the space details.
type SpacePayloadInner struct {
	Lot   string `json:"lot"`
	Spot  string `json:"spot"`
	State string `json:"state"`
	Event string `json:"event"`
	Since string `json:"since"`
}

// FormatSpacePayload creates the JSON payload for a space state.
func FormatSpacePayload(s SpaceState) ([]byte, error) {
	return json.Marshal(SpacePayload{
		Space: SpacePayloadInner{
			Lot:   s.Lot,
			Spot:  s.Spot,
			State: string(s.Kind),
			Event: s.Kind.WireValue(),
			Since: s.Since.UTC().Format(time.RFC3339),
		},
	})
}

// DeliveryPayload is the JSON payload for a delivery report.
type DeliveryPayload struct {
	Delivery DeliveryPayloadInner `json:"delivery"`
}

// DeliveryPayloadInner contains the delivery details.
type DeliveryPayloadInner struct {
	EventID   string `json:"event_id"`
	Lot       string `json:"lot"`
	Spot      string `json:"spot"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FormatDeliveryPayload creates the JSON payload for a delivery report.
func FormatDeliveryPayload(d DeliveryReport) ([]byte, error) {
	return json.Marshal(DeliveryPayload{
		Delivery: DeliveryPayloadInner{
			EventID:   d.EventID,
			Lot:       d.Lot,
			Spot:      d.Spot,
			Event:     d.Kind.WireValue(),
			Outcome:   d.Outcome,
			Attempts:  d.Attempts,
			Error:     d.Error,
			Timestamp: d.Time.UTC().Format(time.RFC3339),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
