package alerthub

import (
	"fmt"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
)

// Envelope is the versioned interchange wrapper for alerts crossing system
// boundaries (cloud event bus, downstream consumers).
type Envelope struct {
	SpecVersion string       `json:"specversion"`
	Type        string       `json:"type"`
	Source      string       `json:"source"`
	ID          string       `json:"id"`
	Time        time.Time    `json:"time"`
	Subject     string       `json:"subject,omitempty"`
	Data        EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	Severity     core.Severity `json:"severity"`
	Confidence   float64       `json:"confidence"`
	FrameTime    time.Time     `json:"frameTimestamp,omitempty"`
	TrackID      string        `json:"trackId,omitempty"`
	BBox         []float64     `json:"bbox,omitempty"`
	SnapshotURL  string        `json:"snapshotUrl,omitempty"`
	VideoClipURL string        `json:"videoClipUrl,omitempty"`
	Model        string        `json:"model,omitempty"`
	Rules        []string      `json:"rules,omitempty"`
}

const envelopeSpecVersion = "1.0"

// NewEnvelope wraps an alert for cross-system interchange. The envelope id
// is the alert id: the alert is the event.
func NewEnvelope(site, model string, alert core.Alert) Envelope {
	return Envelope{
		SpecVersion: envelopeSpecVersion,
		Type:        fmt.Sprintf("vigil.azora.alert.%s", alert.Type),
		Source:      fmt.Sprintf("vigil://site/%s/camera/%s", site, alert.CameraID),
		ID:          alert.ID,
		Time:        alert.CreatedAt,
		Subject:     alert.Zone,
		Data: EnvelopeData{
			Severity:    alert.Severity,
			Confidence:  alert.Confidence,
			FrameTime:   alert.FrameTime,
			TrackID:     alert.TrackID,
			BBox:        alert.BBox,
			SnapshotURL: alert.SnapshotURL,
			Model:       model,
		},
	}
}
