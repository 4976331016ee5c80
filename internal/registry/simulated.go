package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
)

func init() {
	RegisterConnector("simulated", "any", func(desc core.CameraDescriptor) (Connector, error) {
		return &simConnector{}, nil
	})
}

// simConnector stands in for a real vendor connector in dev environments.
// It accepts any descriptor and produces empty frames at a fixed rate.
type simConnector struct{}

func (simConnector) Connect(ctx context.Context, desc core.CameraDescriptor) (Connection, error) {
	if desc.Host == "" {
		return nil, fmt.Errorf("simulated camera %s: empty host", desc.ID)
	}
	return &simConnection{desc: desc}, nil
}

type simConnection struct {
	desc core.CameraDescriptor
}

func (c *simConnection) Capabilities() []string {
	return []string{"video", "motion"}
}

func (c *simConnection) OpenSource() (FrameSource, error) {
	return &simSource{cameraID: c.desc.ID, interval: 100 * time.Millisecond}, nil
}

func (c *simConnection) Close() error { return nil }

type simSource struct {
	cameraID string
	interval time.Duration
}

func (s *simSource) Stream(ctx context.Context, frames chan<- core.Frame) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			frame := core.Frame{CameraID: s.cameraID, Timestamp: t.UTC()}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
