package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/parking-sensor/internal/logging"
	"github.com/sweeney/parking-sensor/internal/logic"
	"github.com/sweeney/parking-sensor/internal/metrics"
	"github.com/sweeney/parking-sensor/internal/status"
)

var (
	r11 = logic.MonitoredInput{Pin: 17, Label: "R1-1", Polarity: logic.ActiveHigh}
	r12 = logic.MonitoredInput{Pin: 27, Label: "R1-2", Polarity: logic.ActiveHigh}
)

type testEnv struct {
	ts      *httptest.Server
	tracker *status.Tracker
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) testEnv {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Lot:         "Parking Lot One",
		Endpoint:    "http://parking.my-dog-spot.com/space-map/update",
		GPIOMode:    "events",
		DebounceMs:  50,
		HeartbeatMs: 900000,
		MaxAttempts: 5,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
	}
	tr := status.NewTracker(start, cfg, []logic.MonitoredInput{r11, r12})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := New(":0", tr, reg, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, tracker: tr, metrics: m}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.tracker.StateConfirmed(r11, logic.KindVacated, time.Now())
	env.tracker.StateConfirmed(r11, logic.KindOccupied, time.Now())
	env.tracker.SetMQTTConnected(true)

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	sj := getJSON(t, env.ts.URL+"/index.json")
	if sj.Status.Lot != "Parking Lot One" {
		t.Errorf("Lot: got %q", sj.Status.Lot)
	}
	if sj.Status.Spaces[0].State != "OCCUPIED" {
		t.Errorf("R1-1: got %q, want OCCUPIED", sj.Status.Spaces[0].State)
	}
	if sj.Status.Spaces[1].State != "UNKNOWN" {
		t.Errorf("R1-2: got %q, want UNKNOWN", sj.Status.Spaces[1].State)
	}
	if sj.Status.Ready {
		t.Error("expected Ready=false with R1-2 unknown")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Counts.Occupied != 1 {
		t.Errorf("Counts.Occupied: got %d, want 1", sj.Status.Counts.Occupied)
	}
	if sj.Status.Config.Endpoint != "http://parking.my-dog-spot.com/space-map/update" {
		t.Errorf("Config.Endpoint: got %q", sj.Status.Config.Endpoint)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	env := newTestServer(t)
	env.tracker.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})

	sj := getJSON(t, env.ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.tracker.StateConfirmed(r11, logic.KindOccupied, time.Now())
	env.tracker.PipelineStopped(r12, errors.New("subscribe pin 27: line busy"))

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", path, ct)
		}
		for _, want := range []string{"Parking Lot One: 1/2 occupied", "R1-1", "OCCUPIED", "line busy"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before baseline: got %d, want 503", resp.StatusCode)
	}

	env.tracker.StateConfirmed(r11, logic.KindVacated, time.Now())
	env.tracker.StateConfirmed(r12, logic.KindVacated, time.Now())

	resp, err = http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("after baseline: got %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.metrics.StateConfirmed(r11, logic.KindOccupied, time.Now())

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `parking_space_occupied{spot="R1-1"} 1`) {
		t.Errorf("metrics missing occupied gauge:\n%s", body)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Get(env.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Post(env.ts.URL+"/index.json", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /index.json: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	env := newTestServer(t)

	if getJSON(t, env.ts.URL+"/index.json").Status.Ready {
		t.Error("expected Ready=false initially")
	}

	env.tracker.StateConfirmed(r11, logic.KindVacated, time.Now())
	env.tracker.StateConfirmed(r12, logic.KindOccupied, time.Now())

	sj := getJSON(t, env.ts.URL+"/index.json")
	if !sj.Status.Ready {
		t.Error("expected Ready=true after baselines")
	}
	if sj.Status.Occupied != 1 {
		t.Errorf("Occupied: got %d, want 1", sj.Status.Occupied)
	}
}
