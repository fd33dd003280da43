// Package config loads the controller's YAML configuration. Every optional
// setting is a pointer so an omitted key falls back to the default returned
// by its Get* accessor.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/signal.report/internal/alert"
	"github.com/banshee-data/signal.report/internal/decision"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/perception"
	"github.com/banshee-data/signal.report/internal/serialmux"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/vision"
	"github.com/banshee-data/signal.report/internal/worker"
)

// DefaultLanes is the four-way intersection used when none is configured.
var DefaultLanes = []string{"north", "east", "south", "west"}

// Config is the root of the configuration file.
type Config struct {
	Intersection Intersection      `yaml:"intersection" json:"intersection"`
	Timing       Timing            `yaml:"timing" json:"timing"`
	Perception   Perception        `yaml:"perception" json:"perception"`
	Signals      *Signals          `yaml:"signals,omitempty" json:"signals,omitempty"`
	Cameras      map[string]string `yaml:"cameras,omitempty" json:"cameras,omitempty"`
	Vision       Vision            `yaml:"vision" json:"vision"`
	Alerts       Alerts            `yaml:"alerts" json:"alerts"`
}

type Intersection struct {
	Lanes       []string `yaml:"lanes,omitempty" json:"lanes,omitempty"`
	DefaultLane *string  `yaml:"default_lane,omitempty" json:"default_lane,omitempty"`
	// Timezone is an IANA zone name used when rendering alert times.
	Timezone *string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Timing holds duration strings such as "20s" or "1m30s".
type Timing struct {
	MinGreen          *string `yaml:"min_green,omitempty" json:"min_green,omitempty"`
	MaxGreen          *string `yaml:"max_green,omitempty" json:"max_green,omitempty"`
	Yellow            *string `yaml:"yellow,omitempty" json:"yellow,omitempty"`
	AllRed            *string `yaml:"all_red,omitempty" json:"all_red,omitempty"`
	EmergencyTimeout  *string `yaml:"emergency_timeout,omitempty" json:"emergency_timeout,omitempty"`
	Tick              *string `yaml:"tick,omitempty" json:"tick,omitempty"`
	CaptureInterval   *string `yaml:"capture_interval,omitempty" json:"capture_interval,omitempty"`
	FrameWait         *string `yaml:"frame_wait,omitempty" json:"frame_wait,omitempty"`
	ClassifierTimeout *string `yaml:"classifier_timeout,omitempty" json:"classifier_timeout,omitempty"`
	StaleAfter        *string `yaml:"stale_after,omitempty" json:"stale_after,omitempty"`
	SnapshotInterval  *string `yaml:"snapshot_interval,omitempty" json:"snapshot_interval,omitempty"`
}

type Perception struct {
	CountWindow         *int     `yaml:"count_window,omitempty" json:"count_window,omitempty"`
	AccidentWindow      *int     `yaml:"accident_window,omitempty" json:"accident_window,omitempty"`
	AccidentThreshold   *int     `yaml:"accident_threshold,omitempty" json:"accident_threshold,omitempty"`
	EmergencyConfidence *float64 `yaml:"emergency_confidence,omitempty" json:"emergency_confidence,omitempty"`
	SwitchRatio         *float64 `yaml:"switch_ratio,omitempty" json:"switch_ratio,omitempty"`
	CongestionThreshold *float64 `yaml:"congestion_threshold,omitempty" json:"congestion_threshold,omitempty"`
}

// Signals describes the relay board. Without it the lights are only
// logged.
type Signals struct {
	Port   string                 `yaml:"port" json:"port"`
	Serial serialmux.PortOptions  `yaml:",inline" json:"serial"`
	Pins   map[string]signal.Pins `yaml:"pins" json:"pins"`
}

type Vision struct {
	Endpoint  *string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Model     *string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKeyEnv *string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	MaxTokens *int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

type Alerts struct {
	ModemPort     string   `yaml:"modem_port,omitempty" json:"modem_port,omitempty"`
	ModemBaudRate *int     `yaml:"modem_baud_rate,omitempty" json:"modem_baud_rate,omitempty"`
	Contacts      []string `yaml:"contacts,omitempty" json:"contacts,omitempty"`
	WebhookURL    string   `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
	WebhookKeyEnv *string  `yaml:"webhook_key_env,omitempty" json:"webhook_key_env,omitempty"`
	QueueSize     *int     `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
}

const maxFileSize = 1 << 20

// Load reads, parses and validates the YAML file at path.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(data) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config { return &Config{} }

// Lanes returns the lane enumeration.
func (c *Config) Lanes() (lane.Set, error) {
	names := c.Intersection.Lanes
	if len(names) == 0 {
		names = DefaultLanes
	}
	return lane.NewSet(names...)
}

// GetDefaultLane is the lane given green at startup. It defaults to the
// first lane.
func (c *Config) GetDefaultLane() lane.Lane {
	if c.Intersection.DefaultLane != nil {
		return lane.Lane(*c.Intersection.DefaultLane)
	}
	if len(c.Intersection.Lanes) > 0 {
		return lane.Lane(c.Intersection.Lanes[0])
	}
	return lane.Lane(DefaultLanes[0])
}

// GetLocation loads the intersection timezone, falling back to the host
// zone when unset or unknown.
func (c *Config) GetLocation() *time.Location {
	if c.Intersection.Timezone == nil {
		return time.Local
	}
	loc, err := time.LoadLocation(*c.Intersection.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) GetMinGreen() time.Duration {
	return durationOr(c.Timing.MinGreen, decision.DefaultConfig().MinGreen)
}

func (c *Config) GetMaxGreen() time.Duration {
	return durationOr(c.Timing.MaxGreen, decision.DefaultConfig().MaxGreen)
}

func (c *Config) GetYellow() time.Duration {
	return durationOr(c.Timing.Yellow, signal.DefaultTiming().Yellow)
}

func (c *Config) GetAllRed() time.Duration {
	return durationOr(c.Timing.AllRed, signal.DefaultTiming().AllRed)
}

func (c *Config) GetEmergencyTimeout() time.Duration {
	return durationOr(c.Timing.EmergencyTimeout, decision.DefaultConfig().EmergencyTimeout)
}

// GetTick is the decision loop period.
func (c *Config) GetTick() time.Duration {
	return durationOr(c.Timing.Tick, time.Second)
}

func (c *Config) GetCaptureInterval() time.Duration {
	return durationOr(c.Timing.CaptureInterval, time.Second)
}

func (c *Config) GetFrameWait() time.Duration {
	return durationOr(c.Timing.FrameWait, worker.DefaultConfig().FrameWait)
}

func (c *Config) GetClassifierTimeout() time.Duration {
	return durationOr(c.Timing.ClassifierTimeout, worker.DefaultConfig().ClassifyTimeout)
}

// GetStaleAfter defaults to 0, which keeps last-known lane values forever.
func (c *Config) GetStaleAfter() time.Duration {
	return durationOr(c.Timing.StaleAfter, 0)
}

// GetSnapshotInterval is how often lane results are journaled.
func (c *Config) GetSnapshotInterval() time.Duration {
	return durationOr(c.Timing.SnapshotInterval, 10*time.Second)
}

func (c *Config) GetCountWindow() int {
	return intOr(c.Perception.CountWindow, perception.DefaultSmootherConfig().CountWindow)
}

func (c *Config) GetAccidentWindow() int {
	return intOr(c.Perception.AccidentWindow, perception.DefaultSmootherConfig().AccidentWindow)
}

func (c *Config) GetAccidentThreshold() int {
	return intOr(c.Perception.AccidentThreshold, perception.DefaultSmootherConfig().AccidentThreshold)
}

func (c *Config) GetEmergencyConfidence() float64 {
	return floatOr(c.Perception.EmergencyConfidence, perception.DefaultEmergencyConfidence)
}

func (c *Config) GetSwitchRatio() float64 {
	return floatOr(c.Perception.SwitchRatio, decision.DefaultConfig().SwitchRatio)
}

func (c *Config) GetCongestionThreshold() float64 {
	return floatOr(c.Perception.CongestionThreshold, alert.DefaultCongestionThreshold)
}

func (c *Config) GetVisionEndpoint() string {
	return stringOr(c.Vision.Endpoint, vision.DefaultEndpoint)
}

func (c *Config) GetVisionModel() string {
	return stringOr(c.Vision.Model, vision.DefaultModel)
}

// GetVisionKeyEnv names the environment variable holding the model API key.
func (c *Config) GetVisionKeyEnv() string {
	return stringOr(c.Vision.APIKeyEnv, "VISION_API_KEY")
}

func (c *Config) GetVisionMaxTokens() int {
	return intOr(c.Vision.MaxTokens, vision.DefaultMaxTokens)
}

func (c *Config) GetModemBaudRate() int {
	return intOr(c.Alerts.ModemBaudRate, serialmux.DefaultBaudRate)
}

func (c *Config) GetWebhookKeyEnv() string {
	return stringOr(c.Alerts.WebhookKeyEnv, "ALERT_WEBHOOK_KEY")
}

func (c *Config) GetQueueSize() int {
	return intOr(c.Alerts.QueueSize, alert.DefaultQueueSize)
}

// DecisionConfig assembles the engine settings.
func (c *Config) DecisionConfig() decision.Config {
	return decision.Config{
		MinGreen:         c.GetMinGreen(),
		MaxGreen:         c.GetMaxGreen(),
		EmergencyTimeout: c.GetEmergencyTimeout(),
		SwitchRatio:      c.GetSwitchRatio(),
		StaleAfter:       c.GetStaleAfter(),
	}
}

// SignalTiming assembles the transition pauses.
func (c *Config) SignalTiming() signal.Timing {
	return signal.Timing{Yellow: c.GetYellow(), AllRed: c.GetAllRed()}
}

// WorkerConfig assembles the per-lane worker settings.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		FrameWait:       c.GetFrameWait(),
		ClassifyTimeout: c.GetClassifierTimeout(),
		Smoother: perception.SmootherConfig{
			CountWindow:       c.GetCountWindow(),
			AccidentWindow:    c.GetAccidentWindow(),
			AccidentThreshold: c.GetAccidentThreshold(),
		},
	}
}

// VisionConfig assembles the model client settings, reading the API key
// through getenv.
func (c *Config) VisionConfig(getenv func(string) string) vision.ClientConfig {
	return vision.ClientConfig{
		Endpoint:  c.GetVisionEndpoint(),
		Model:     c.GetVisionModel(),
		APIKey:    getenv(c.GetVisionKeyEnv()),
		MaxTokens: c.GetVisionMaxTokens(),
	}
}

// CameraURLs maps each configured lane to its snapshot URL.
func (c *Config) CameraURLs() map[lane.Lane]string {
	out := make(map[lane.Lane]string, len(c.Cameras))
	for name, url := range c.Cameras {
		out[lane.Lane(name)] = url
	}
	return out
}

// SignalPins maps each lane to its relay pins.
func (c *Config) SignalPins() map[lane.Lane]signal.Pins {
	if c.Signals == nil {
		return nil
	}
	out := make(map[lane.Lane]signal.Pins, len(c.Signals.Pins))
	for name, p := range c.Signals.Pins {
		out[lane.Lane(name)] = p
	}
	return out
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	lanes, err := c.Lanes()
	if err != nil {
		errs = append(errs, err)
	}
	if lanes != nil && !lanes.Contains(c.GetDefaultLane()) {
		errs = append(errs, fmt.Errorf("default_lane %q is not a configured lane", c.GetDefaultLane()))
	}

	if tz := c.Intersection.Timezone; tz != nil {
		if *tz == "" {
			errs = append(errs, errors.New("intersection.timezone must not be empty"))
		} else if _, err := time.LoadLocation(*tz); err != nil {
			errs = append(errs, fmt.Errorf("intersection.timezone: %w", err))
		}
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"min_green", c.Timing.MinGreen},
		{"max_green", c.Timing.MaxGreen},
		{"yellow", c.Timing.Yellow},
		{"all_red", c.Timing.AllRed},
		{"emergency_timeout", c.Timing.EmergencyTimeout},
		{"tick", c.Timing.Tick},
		{"capture_interval", c.Timing.CaptureInterval},
		{"frame_wait", c.Timing.FrameWait},
		{"classifier_timeout", c.Timing.ClassifierTimeout},
		{"stale_after", c.Timing.StaleAfter},
		{"snapshot_interval", c.Timing.SnapshotInterval},
	}
	badDuration := false
	for _, d := range durations {
		if d.v == nil {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			errs = append(errs, fmt.Errorf("timing.%s: %w", d.name, err))
			badDuration = true
			continue
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("timing.%s must not be negative, got %s", d.name, v))
			badDuration = true
		}
	}
	if !badDuration {
		if err := c.DecisionConfig().Validate(); err != nil {
			errs = append(errs, err)
		}
		for name, v := range map[string]time.Duration{
			"tick":              c.GetTick(),
			"capture_interval":  c.GetCaptureInterval(),
			"frame_wait":        c.GetFrameWait(),
			"snapshot_interval": c.GetSnapshotInterval(),
		} {
			if v <= 0 {
				errs = append(errs, fmt.Errorf("timing.%s must be positive", name))
			}
		}
	}

	for name, v := range map[string]*int{
		"count_window":       c.Perception.CountWindow,
		"accident_window":    c.Perception.AccidentWindow,
		"accident_threshold": c.Perception.AccidentThreshold,
	} {
		if v != nil && *v <= 0 {
			errs = append(errs, fmt.Errorf("perception.%s must be positive, got %d", name, *v))
		}
	}
	if c.GetAccidentThreshold() > c.GetAccidentWindow() {
		errs = append(errs, fmt.Errorf("perception.accident_threshold %d exceeds accident_window %d",
			c.GetAccidentThreshold(), c.GetAccidentWindow()))
	}
	if ec := c.GetEmergencyConfidence(); ec <= 0 || ec > 1 {
		errs = append(errs, fmt.Errorf("perception.emergency_confidence must be in (0, 1], got %v", ec))
	}
	if c.GetCongestionThreshold() < 0 {
		errs = append(errs, fmt.Errorf("perception.congestion_threshold must not be negative"))
	}

	if lanes != nil {
		for name := range c.Cameras {
			if !lanes.Contains(lane.Lane(name)) {
				errs = append(errs, fmt.Errorf("cameras: unknown lane %q", name))
			}
		}
		if c.Signals != nil {
			for name := range c.Signals.Pins {
				if !lanes.Contains(lane.Lane(name)) {
					errs = append(errs, fmt.Errorf("signals.pins: unknown lane %q", name))
				}
			}
			if c.Signals.Port != "" {
				for _, l := range lanes {
					if _, ok := c.Signals.Pins[string(l)]; !ok {
						errs = append(errs, fmt.Errorf("signals.pins: missing pins for lane %q", l))
					}
				}
			}
		}
	}
	if c.Signals != nil && c.Signals.Port == "" {
		errs = append(errs, errors.New("signals.port is required when a signals block is present"))
	}
	if c.Signals != nil && c.Signals.Port != "" {
		if _, err := c.Signals.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("signals: %w", err))
		}
	}

	if c.GetVisionMaxTokens() <= 0 {
		errs = append(errs, fmt.Errorf("vision.max_tokens must be positive"))
	}
	if c.Alerts.ModemPort != "" && len(c.Alerts.Contacts) == 0 {
		errs = append(errs, fmt.Errorf("alerts.modem_port is set but alerts.contacts is empty"))
	}
	if c.GetQueueSize() <= 0 {
		errs = append(errs, fmt.Errorf("alerts.queue_size must be positive"))
	}

	return errors.Join(errs...)
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
