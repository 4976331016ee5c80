package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/azora-io/vigil-core/internal/core"
)

// Webhook is one notification endpoint. Type selects which distribution
// pass hits it: "alert" (every alert) or "escalation" (only on escalate).
type Webhook struct {
	URL  string `yaml:"url"`
	Type string `yaml:"type"`
}

type Config struct {
	Site string `yaml:"site"`

	Cameras  []core.CameraDescriptor `yaml:"cameras"`
	Webhooks []Webhook               `yaml:"webhooks"`

	// ConfidenceThreshold gates which detections become alerts.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ConnectTimeout bounds each camera connection attempt during discovery.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// InferTimeout bounds a single inference call; on expiry the frame is
	// treated as detection-free.
	InferTimeout time.Duration `yaml:"infer_timeout"`

	// FrameBuffer is the per-camera frame channel capacity.
	FrameBuffer int `yaml:"frame_buffer"`

	// TelemetryInterval is the snapshot broadcast period.
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

func defaults() Config {
	return Config{
		Site:                "default",
		ConfidenceThreshold: 0.8,
		ConnectTimeout:      5 * time.Second,
		InferTimeout:        10 * time.Second,
		FrameBuffer:         64,
		TelemetryInterval:   5 * time.Second,
	}
}

// Load reads the YAML config file and applies env overrides on top.
// A missing file is not an error: everything can come from env plus
// runtime discovery calls.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_SITE"); v != "" {
		c.Site = v
	}
	if v := envFloat("VIGIL_CONFIDENCE_THRESHOLD"); v > 0 {
		c.ConfidenceThreshold = v
	}
	if v := envSeconds("VIGIL_CONNECT_TIMEOUT_SECONDS"); v > 0 {
		c.ConnectTimeout = v
	}
	if v := envSeconds("VIGIL_INFER_TIMEOUT_SECONDS"); v > 0 {
		c.InferTimeout = v
	}
	if v := envSeconds("VIGIL_TELEMETRY_INTERVAL_SECONDS"); v > 0 {
		c.TelemetryInterval = v
	}
}

func (c *Config) validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 64
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, d := range c.Cameras {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("camera with empty id (host=%s)", d.Host)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate camera id %q", d.ID)
		}
		seen[d.ID] = true
	}
	for _, w := range c.Webhooks {
		if strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("webhook with empty url")
		}
	}
	return nil
}

// AlertWebhooks returns the endpoints hit on every generated alert.
func (c Config) AlertWebhooks() []Webhook {
	return c.webhooksByType("alert")
}

// EscalationWebhooks returns the endpoints hit on the escalation pass.
func (c Config) EscalationWebhooks() []Webhook {
	return c.webhooksByType("escalation")
}

func (c Config) webhooksByType(t string) []Webhook {
	var out []Webhook
	for _, w := range c.Webhooks {
		wt := strings.ToLower(strings.TrimSpace(w.Type))
		if wt == "" {
			wt = "alert"
		}
		if wt == t {
			out = append(out, w)
		}
	}
	return out
}

func envFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envSeconds(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}
