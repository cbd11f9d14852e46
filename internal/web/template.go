package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/parking-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"state": status.StateLabel,
	"since": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>{{.Config.Lot}}</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.OCCUPIED { color: #c00; font-weight: bold; }
.VACANT { color: green; }
.UNKNOWN { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
</style>
</head>
<body>
<h1>{{.Config.Lot}}: {{.Occupied}}/{{len .Spaces}} occupied</h1>

<h2>Spaces</h2>
<table>
<tr><th>Space</th><th>Pin</th><th>State</th><th>Since</th><th>Delivered</th><th>Failed</th><th>Last</th></tr>
{{range .Spaces}}<tr>
<td>{{.Label}}</td>
<td>{{.Pin}}</td>
<td class="{{state .Kind}}">{{state .Kind}}</td>
<td>{{since .Since}}</td>
<td>{{.Delivery.Delivered}}</td>
<td>{{.Delivery.RetriesExhausted}}/{{.Delivery.Abandoned}}/{{.Delivery.Dropped}}</td>
<td>{{if .PipelineError}}<span class="error">{{.PipelineError}}</span>{{else}}{{.LastOutcome}}{{end}}</td>
</tr>
{{end}}</table>
<p>Failed = retries exhausted / abandoned / dropped.</p>

<h2>Connectivity</h2>
<table>
<tr><th>Endpoint</th><td>{{.Config.Endpoint}}</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}} ({{.Config.Broker}})</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.GPIOMode}}</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Max attempts</th><td>{{.Config.MaxAttempts}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

type pageData struct {
	status.Snapshot
	Uptime   time.Duration
	Ready    bool
	Occupied int
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Template needs plain fields, not methods with the same names.
	return indexTmpl.Execute(w, pageData{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
		Occupied: snap.Occupied(),
	})
}
