package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logic"
)

var (
	r11 = logic.MonitoredInput{Pin: 17, Label: "R1-1", Polarity: logic.ActiveHigh}
	r12 = logic.MonitoredInput{Pin: 27, Label: "R1-2", Polarity: logic.ActiveLow}
	t0  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestTracker() *Tracker {
	return NewTracker(t0, Config{Lot: "Parking Lot One", DebounceMs: 50, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
		[]logic.MonitoredInput{r11, r12})
}

func TestNewTracker(t *testing.T) {
	tr := newTestTracker()

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(t0) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, t0)
	}
	if snap.Config.Lot != "Parking Lot One" {
		t.Errorf("Config.Lot: got %q", snap.Config.Lot)
	}
	if len(snap.Spaces) != 2 {
		t.Fatalf("expected 2 spaces, got %d", len(snap.Spaces))
	}
	if snap.Spaces[1].Label != "R1-2" || snap.Spaces[1].Polarity != logic.ActiveLow {
		t.Errorf("unexpected space: %+v", snap.Spaces[1])
	}
	if snap.Ready() {
		t.Error("expected not ready before baselines")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestStateConfirmedCountsChangesOnly(t *testing.T) {
	tr := newTestTracker()

	tr.StateConfirmed(r11, logic.KindVacated, t0) // baseline
	tr.StateConfirmed(r11, logic.KindOccupied, t0.Add(time.Second))
	tr.StateConfirmed(r11, logic.KindOccupied, t0.Add(2*time.Second)) // restart re-baseline
	tr.StateConfirmed(r11, logic.KindVacated, t0.Add(3*time.Second))

	sp := tr.Snapshot().Spaces[0]
	if sp.Kind != logic.KindVacated {
		t.Errorf("Kind: got %s, want VACATED", sp.Kind)
	}
	if !sp.Since.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("Since: got %v", sp.Since)
	}
	if sp.Counts != (logic.EventCounts{Occupied: 1, Vacated: 1}) {
		t.Errorf("Counts: got %+v", sp.Counts)
	}
}

func TestReadyNeedsEveryBaseline(t *testing.T) {
	tr := newTestTracker()

	tr.StateConfirmed(r11, logic.KindVacated, t0)
	if tr.Snapshot().Ready() {
		t.Error("expected not ready with one space unknown")
	}
	tr.StateConfirmed(r12, logic.KindOccupied, t0)
	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected ready")
	}
	if snap.Occupied() != 1 {
		t.Errorf("Occupied: got %d, want 1", snap.Occupied())
	}

	tr.PipelineStopped(r12, errors.New("subscribe pin 27: line busy"))
	snap = tr.Snapshot()
	if snap.Ready() {
		t.Error("expected not ready with a stopped pipeline")
	}
	if snap.Spaces[1].PipelineError != "subscribe pin 27: line busy" {
		t.Errorf("PipelineError: got %q", snap.Spaces[1].PipelineError)
	}

	// A restarted pipeline reports its baseline again.
	tr.StateConfirmed(r12, logic.KindOccupied, t0.Add(time.Minute))
	if !tr.Snapshot().Ready() {
		t.Error("expected ready after restart")
	}
}

func TestDeliveryFinished(t *testing.T) {
	tr := newTestTracker()
	evTime := t0.Add(time.Second)

	tr.DeliveryFinished(r11, delivery.Result{
		Event:    logic.Event{Spot: "R1-1", Kind: logic.KindOccupied, Time: evTime},
		Outcome:  delivery.Delivered,
		Attempts: []delivery.Attempt{{Number: 1}, {Number: 2}},
	})
	tr.DeliveryFinished(r11, delivery.Result{
		Outcome:  delivery.RetriesExhausted,
		Attempts: []delivery.Attempt{{Number: 1}},
		Err:      errors.New("transient failure: status 503"),
	})
	tr.EventDropped(r11, logic.Event{}, "queue_full")

	sp := tr.Snapshot().Spaces[0]
	want := DeliveryCounts{Delivered: 1, RetriesExhausted: 1, Dropped: 1}
	if sp.Delivery != want {
		t.Errorf("Delivery: got %+v, want %+v", sp.Delivery, want)
	}
	if sp.LastOutcome != "retries_exhausted" || sp.LastAttempts != 1 {
		t.Errorf("last outcome: got %q after %d attempts", sp.LastOutcome, sp.LastAttempts)
	}
	if sp.LastError != "transient failure: status 503" {
		t.Errorf("LastError: got %q", sp.LastError)
	}
	if !sp.LastDelivered.Equal(evTime) {
		t.Errorf("LastDelivered: got %v, want %v", sp.LastDelivered, evTime)
	}
}

func TestUnknownPinIgnored(t *testing.T) {
	tr := newTestTracker()
	tr.StateConfirmed(logic.MonitoredInput{Pin: 4}, logic.KindOccupied, t0)

	for _, sp := range tr.Snapshot().Spaces {
		if sp.Kind != "" {
			t.Errorf("space %s changed by unknown pin", sp.Label)
		}
	}
}

func TestSetNetwork(t *testing.T) {
	tr := newTestTracker()

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	snap := tr.Snapshot()
	if snap.Network == nil || snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network: got %+v", snap.Network)
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := newTestTracker()

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
	if snap.Uptime() <= 0 {
		t.Errorf("Uptime should be positive, got %v", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := newTestTracker()
	tr.StateConfirmed(r11, logic.KindOccupied, t0)

	snap1 := tr.Snapshot()
	tr.StateConfirmed(r11, logic.KindVacated, t0.Add(time.Second))

	if snap1.Spaces[0].Kind != logic.KindOccupied {
		t.Error("snapshot should be a copy; space was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		Spaces: []Space{
			{Pin: 17, Label: "R1-1", Polarity: logic.ActiveHigh, Kind: logic.KindOccupied, Since: t0,
				Counts: logic.EventCounts{Occupied: 5, Vacated: 4}, Delivery: DeliveryCounts{Delivered: 9}, LastOutcome: "delivered"},
			{Pin: 27, Label: "R1-2", Polarity: logic.ActiveLow, Kind: logic.KindVacated,
				Counts: logic.EventCounts{Vacated: 2}},
		},
		StartTime:     t0,
		Now:           t0.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Lot: "Parking Lot One", DebounceMs: 50, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Lot != "Parking Lot One" {
		t.Errorf("Lot: got %q", s.Lot)
	}
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.Occupied != 1 || s.Capacity != 2 {
		t.Errorf("occupancy: got %d/%d, want 1/2", s.Occupied, s.Capacity)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if s.Counts != (CountsJSON{Occupied: 5, Vacated: 6}) {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if len(s.Spaces) != 2 {
		t.Fatalf("expected 2 spaces, got %d", len(s.Spaces))
	}
	if s.Spaces[0].State != "OCCUPIED" || s.Spaces[0].Since != "2026-01-01T00:00:00Z" || !s.Spaces[0].Running {
		t.Errorf("space 0: got %+v", s.Spaces[0])
	}
	if s.Spaces[0].Delivery.Delivered != 9 || s.Spaces[0].Delivery.LastOutcome != "delivered" {
		t.Errorf("space 0 delivery: got %+v", s.Spaces[0].Delivery)
	}
	if s.Spaces[1].State != "VACANT" || s.Spaces[1].Polarity != "active-low" {
		t.Errorf("space 1: got %+v", s.Spaces[1])
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		Spaces:    []Space{{Pin: 17, Label: "R1-1"}},
		StartTime: t0,
		Now:       t0.Add(time.Second),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Spaces[0].State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", parsed.Status.Spaces[0].State)
	}
	if parsed.Status.Ready {
		t.Error("expected Ready=false")
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{
		StartTime: t0,
		Now:       t0.Add(30 * time.Minute),
		Config:    Config{Lot: "Parking Lot One"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("got event %q reason %q", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: t0, Now: t0.Add(time.Second)}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: t0,
		Now:       t0.Add(time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := newTestTracker()
	var wg sync.WaitGroup

	for _, in := range []logic.MonitoredInput{r11, r12} {
		in := in
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				kind := logic.KindOccupied
				if i%2 == 0 {
					kind = logic.KindVacated
				}
				tr.StateConfirmed(in, kind, t0.Add(time.Duration(i)*time.Millisecond))
				tr.DeliveryFinished(in, delivery.Result{Outcome: delivery.Delivered})
				tr.SetMQTTConnected(i%2 == 0)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
