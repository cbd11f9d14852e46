// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/gpio"
	"github.com/sweeney/parking-sensor/internal/logging"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// GPIO watch modes.
const (
	ModeEvents = "events"
	ModePoll   = "poll"
)

// Config is the full daemon configuration. It is read once at startup and
// never changed afterwards.
type Config struct {
	Lot          string         `yaml:"lot"`
	Log          LogConfig      `yaml:"log"`
	Endpoint     EndpointConfig `yaml:"endpoint"`
	GPIO         GPIOConfig     `yaml:"gpio"`
	Debounce     time.Duration  `yaml:"debounce"`
	InitialQuiet bool           `yaml:"initial_quiet"`
	SyncOnStart  bool           `yaml:"sync_on_start"`
	QueueDepth   int            `yaml:"queue_depth"`
	RestartDelay time.Duration  `yaml:"restart_delay"`
	HTTP         string         `yaml:"http"`
	Heartbeat    time.Duration  `yaml:"heartbeat"`
	MQTT         MQTTConfig     `yaml:"mqtt"`
	Inputs       []Input        `yaml:"inputs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EndpointConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Path           string        `yaml:"path"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	MaxTotalWait   time.Duration `yaml:"max_total_wait"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	Jitter         float64       `yaml:"jitter"`
}

type GPIOConfig struct {
	Chip           string        `yaml:"chip"`
	Mode           string        `yaml:"mode"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// MQTTConfig enables the optional broker mirror when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Input is one monitored pin. Debounce overrides the global window when set.
type Input struct {
	Pin      int            `yaml:"pin"`
	Label    string         `yaml:"label"`
	Polarity string         `yaml:"polarity"`
	Bias     string         `yaml:"bias"`
	Debounce *time.Duration `yaml:"debounce"`
}

// Default returns a configuration with every optional field filled in.
// Lot, endpoint URL and inputs have no sensible default.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Endpoint: EndpointConfig{
			Path:           delivery.DefaultPath,
			AttemptTimeout: 5 * time.Second,
			MaxAttempts:    5,
			MaxTotalWait:   30 * time.Second,
			BackoffBase:    250 * time.Millisecond,
			BackoffMax:     8 * time.Second,
			Jitter:         0.2,
		},
		GPIO: GPIOConfig{
			Chip:         "gpiochip0",
			Mode:         ModeEvents,
			PollInterval: 50 * time.Millisecond,
		},
		Debounce:     50 * time.Millisecond,
		QueueDepth:   16,
		RestartDelay: 5 * time.Second,
		HTTP:         ":8080",
		Heartbeat:    15 * time.Minute,
		MQTT: MQTTConfig{
			ClientID:    "parking-sensor",
			TopicPrefix: "parking",
		},
	}
}

// Load reads path, applies it over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ReadFile reads path and decodes it over the defaults without validating,
// so callers can apply overrides first.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes YAML over the defaults. Unknown keys are rejected so typos
// do not silently fall back to defaults.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty configuration", ErrInvalid)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Lot) == "" {
		add("lot is required")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log format %q: want text or json", c.Log.Format)
	}

	errs = append(errs, c.Endpoint.validate()...)

	switch c.GPIO.Mode {
	case ModeEvents:
	case ModePoll:
		if c.GPIO.PollInterval <= 0 {
			add("gpio poll_interval must be positive in poll mode")
		}
	default:
		add("gpio mode %q: want %s or %s", c.GPIO.Mode, ModeEvents, ModePoll)
	}
	if c.GPIO.Chip == "" {
		add("gpio chip is required")
	}
	if c.GPIO.ResyncInterval < 0 {
		add("gpio resync_interval must not be negative")
	}

	if c.Debounce < 0 {
		add("debounce must not be negative")
	}
	if c.QueueDepth < 2 {
		add("queue_depth must be at least 2, got %d", c.QueueDepth)
	}
	if c.RestartDelay < 0 {
		add("restart_delay must not be negative")
	}
	if c.Heartbeat < 0 {
		add("heartbeat must not be negative")
	}

	if c.MQTT.Broker != "" {
		if _, err := url.Parse(c.MQTT.Broker); err != nil {
			add("mqtt broker: %v", err)
		}
		if c.MQTT.TopicPrefix == "" {
			add("mqtt topic_prefix is required when a broker is set")
		}
	}

	errs = append(errs, validateInputs(c.Inputs)...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (e EndpointConfig) validate() []error {
	var errs []error
	if e.BaseURL == "" {
		errs = append(errs, errors.New("endpoint base_url is required"))
	} else if u, err := url.Parse(e.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint base_url %q: need an http(s) URL with a host", e.BaseURL))
	}
	if e.AttemptTimeout < 0 {
		errs = append(errs, errors.New("endpoint attempt_timeout must not be negative"))
	}
	if e.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("endpoint max_attempts must be at least 1, got %d", e.MaxAttempts))
	}
	if e.MaxTotalWait < 0 {
		errs = append(errs, errors.New("endpoint max_total_wait must not be negative"))
	}
	if e.BackoffBase <= 0 {
		errs = append(errs, errors.New("endpoint backoff_base must be positive"))
	}
	if e.BackoffMax < e.BackoffBase {
		errs = append(errs, fmt.Errorf("endpoint backoff_max %v is below backoff_base %v", e.BackoffMax, e.BackoffBase))
	}
	if e.Jitter < 0 || e.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("endpoint jitter %v: want [0, 1)", e.Jitter))
	}
	return errs
}

func validateInputs(inputs []Input) []error {
	if len(inputs) == 0 {
		return []error{errors.New("at least one input is required")}
	}

	var errs []error
	pins := make(map[int]string)
	labels := make(map[string]int)
	for i, in := range inputs {
		where := fmt.Sprintf("inputs[%d]", i)
		if in.Pin < 0 {
			errs = append(errs, fmt.Errorf("%s: pin %d is negative", where, in.Pin))
		}
		if prev, ok := pins[in.Pin]; ok {
			errs = append(errs, fmt.Errorf("%s: pin %d already used by %q", where, in.Pin, prev))
		}
		pins[in.Pin] = in.Label

		label := strings.TrimSpace(in.Label)
		if label == "" {
			errs = append(errs, fmt.Errorf("%s: label is required", where))
		} else if prev, ok := labels[label]; ok {
			errs = append(errs, fmt.Errorf("%s: label %q already used by pin %d", where, label, prev))
		} else {
			labels[label] = in.Pin
		}

		if _, err := logic.ParsePolarity(in.Polarity); err != nil {
			errs = append(errs, fmt.Errorf("%s: polarity %q: %w", where, in.Polarity, err))
		}
		if _, err := gpio.ParseBias(in.Bias); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
		if in.Debounce != nil && *in.Debounce < 0 {
			errs = append(errs, fmt.Errorf("%s: debounce must not be negative", where))
		}
	}
	return errs
}

// MonitoredInputs converts the validated inputs for the dispatcher.
func (c *Config) MonitoredInputs() []logic.MonitoredInput {
	out := make([]logic.MonitoredInput, 0, len(c.Inputs))
	for _, in := range c.Inputs {
		pol, _ := logic.ParsePolarity(in.Polarity)
		window := c.Debounce
		if in.Debounce != nil {
			window = *in.Debounce
		}
		out = append(out, logic.MonitoredInput{
			Pin:              in.Pin,
			Label:            strings.TrimSpace(in.Label),
			Polarity:         pol,
			Debounce:         window,
			InitialQuiet:     c.InitialQuiet,
			AnnounceBaseline: c.SyncOnStart,
		})
	}
	return out
}

// PinConfigs returns the GPIO line requests for every input.
func (c *Config) PinConfigs() []gpio.PinConfig {
	out := make([]gpio.PinConfig, 0, len(c.Inputs))
	for _, in := range c.Inputs {
		b, _ := gpio.ParseBias(in.Bias)
		out = append(out, gpio.PinConfig{Pin: in.Pin, Bias: b})
	}
	return out
}

// Delivery returns the delivery client settings.
func (c *Config) Delivery() delivery.Config {
	return delivery.Config{
		BaseURL:        c.Endpoint.BaseURL,
		Path:           c.Endpoint.Path,
		AttemptTimeout: c.Endpoint.AttemptTimeout,
		MaxAttempts:    c.Endpoint.MaxAttempts,
		MaxTotalWait:   c.Endpoint.MaxTotalWait,
		BackoffBase:    c.Endpoint.BackoffBase,
		BackoffMax:     c.Endpoint.BackoffMax,
		Jitter:         c.Endpoint.Jitter,
	}
}
