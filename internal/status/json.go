package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Lot           string       `json:"lot"`
	Ready         bool         `json:"ready"`
	Occupied      int          `json:"occupied"`
	Capacity      int          `json:"capacity"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Spaces        []SpaceJSON  `json:"spaces"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Occupied int `json:"occupied"`
	Vacated  int `json:"vacated"`
}

// DeliveryJSON summarises delivery results for one space.
type DeliveryJSON struct {
	Delivered        int    `json:"delivered"`
	RetriesExhausted int    `json:"retries_exhausted"`
	Abandoned        int    `json:"abandoned"`
	Dropped          int    `json:"dropped"`
	LastOutcome      string `json:"last_outcome,omitempty"`
	LastAttempts     int    `json:"last_attempts,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastDelivered    string `json:"last_delivered,omitempty"`
}

// SpaceJSON is one monitored space.
type SpaceJSON struct {
	Pin      int          `json:"pin"`
	Label    string       `json:"label"`
	Polarity string       `json:"polarity"`
	State    string       `json:"state"`
	Since    string       `json:"since,omitempty"`
	Running  bool         `json:"running"`
	Error    string       `json:"error,omitempty"`
	Counts   CountsJSON   `json:"event_counts"`
	Delivery DeliveryJSON `json:"delivery"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Endpoint    string `json:"endpoint"`
	GPIOMode    string `json:"gpio_mode"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	MaxAttempts int    `json:"max_attempts"`
	Broker      string `json:"broker,omitempty"`
	HTTPAddr    string `json:"http_addr"`
}

// StateLabel is the display name for a space's occupancy.
func StateLabel(k logic.Kind) string {
	switch k {
	case logic.KindOccupied:
		return "OCCUPIED"
	case logic.KindVacated:
		return "VACANT"
	}
	return "UNKNOWN"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildSpace(sp Space) SpaceJSON {
	return SpaceJSON{
		Pin:      sp.Pin,
		Label:    sp.Label,
		Polarity: string(sp.Polarity),
		State:    StateLabel(sp.Kind),
		Since:    formatTime(sp.Since),
		Running:  sp.PipelineError == "",
		Error:    sp.PipelineError,
		Counts:   CountsJSON{Occupied: sp.Counts.Occupied, Vacated: sp.Counts.Vacated},
		Delivery: DeliveryJSON{
			Delivered:        sp.Delivery.Delivered,
			RetriesExhausted: sp.Delivery.RetriesExhausted,
			Abandoned:        sp.Delivery.Abandoned,
			Dropped:          sp.Delivery.Dropped,
			LastOutcome:      sp.LastOutcome,
			LastAttempts:     sp.LastAttempts,
			LastError:        sp.LastError,
			LastDelivered:    formatTime(sp.LastDelivered),
		},
	}
}

func buildInner(snap Snapshot) StatusInner {
	totals := snap.Totals()
	spaces := make([]SpaceJSON, 0, len(snap.Spaces))
	for _, sp := range snap.Spaces {
		spaces = append(spaces, buildSpace(sp))
	}

	inner := StatusInner{
		Lot:           snap.Config.Lot,
		Ready:         snap.Ready(),
		Occupied:      snap.Occupied(),
		Capacity:      len(snap.Spaces),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON{Occupied: totals.Occupied, Vacated: totals.Vacated},
		Spaces:        spaces,
		Config: ConfigJSON{
			Endpoint:    snap.Config.Endpoint,
			GPIOMode:    snap.Config.GPIOMode,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MaxAttempts: snap.Config.MaxAttempts,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
