package core

import "time"

// CameraDescriptor is the configuration-level identity of a camera.
// Host/credentials are opaque to the pipeline; only the connector that
// dials the camera interprets them.
type CameraDescriptor struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Username     string `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty"`
	Zone         string `json:"zone,omitempty" yaml:"zone,omitempty"`
}

type CameraStatus string

const (
	CameraConnected    CameraStatus = "connected"
	CameraDisconnected CameraStatus = "disconnected"
	CameraError        CameraStatus = "error"
)

// Camera is the registry's view of a device. Mutated only by the
// CameraRegistry on connect/disconnect attempts; everyone else reads copies.
type Camera struct {
	Descriptor   CameraDescriptor `json:"descriptor"`
	Status       CameraStatus     `json:"status"`
	Capabilities []string         `json:"capabilities,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	LastSeenAt   time.Time        `json:"last_seen_at,omitempty"`
}

func (c Camera) ID() string { return c.Descriptor.ID }

// Frame is one unit of video handed to the inference collaborator.
// Data is the raw encoded frame; the pipeline never decodes it.
type Frame struct {
	CameraID  string
	Timestamp time.Time
	Data      []byte
}

// Detection is a single inference output for one frame. Transient: it is
// either promoted to an alert request or discarded.
type Detection struct {
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	Zone       string    `json:"zone,omitempty"`
	FrameTime  time.Time `json:"frame_timestamp"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NormalizeSeverity maps unknown or empty values to medium so a bad
// producer can never poison the store.
func NormalizeSeverity(s Severity) Severity {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return s
	default:
		return SeverityMedium
	}
}

// LifecycleMark is one of the three one-way alert flags. Zero value means
// the flag was never set; At is the authoritative indicator.
type LifecycleMark struct {
	Actor string    `json:"actor,omitempty"`
	Notes string    `json:"notes,omitempty"`
	At    time.Time `json:"at,omitempty"`
}

func (m LifecycleMark) Set() bool { return !m.At.IsZero() }

// Alert is the durable record produced from a qualifying detection.
// ID and CreatedAt never change after creation; the lifecycle marks are
// monotonic and Resolved is terminal.
type Alert struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CameraID    string    `json:"camera_id"`
	Zone        string    `json:"zone,omitempty"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"`
	TrackID     string    `json:"track_id,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	FrameTime   time.Time `json:"frame_timestamp,omitempty"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Acknowledged LifecycleMark `json:"acknowledged"`
	Escalated    LifecycleMark `json:"escalated"`
	Resolved     LifecycleMark `json:"resolved"`

	// EscalationLevel is set together with the Escalated mark.
	EscalationLevel string `json:"escalation_level,omitempty"`
}

// AlertRequest is what the stream supervisor submits for each qualifying
// detection. The hub assigns identity and timestamps.
type AlertRequest struct {
	Type        string
	CameraID    string
	Zone        string
	Severity    Severity
	Confidence  float64
	TrackID     string
	BBox        []float64
	FrameTime   time.Time
	SnapshotURL string
}

// AlertFilter narrows GetAlerts results. Nil pointer fields mean "don't
// filter on this".
type AlertFilter struct {
	Severity     Severity
	CameraID     string
	Acknowledged *bool
	Escalated    *bool
}
