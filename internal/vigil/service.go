// Package vigil exposes the alerting pipeline to the rest of the platform.
// The REST layer (out of tree) holds a *Service and calls only what is
// exported here.
package vigil

import (
	"context"
	"log"

	"github.com/azora-io/vigil-core/internal/alerthub"
	"github.com/azora-io/vigil-core/internal/config"
	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/registry"
	"github.com/azora-io/vigil-core/internal/stream"
	"github.com/azora-io/vigil-core/internal/telemetry"
)

// Service wires the four pipeline components behind one API surface.
// Dependencies are constructor-injected; there is no package-level state.
type Service struct {
	cfg       config.Config
	registry  *registry.Registry
	streams   *stream.Supervisor
	hub       *alerthub.Hub
	telemetry *telemetry.Publisher

	cancel context.CancelFunc
}

func NewService(cfg config.Config, reg *registry.Registry, streams *stream.Supervisor, hub *alerthub.Hub, tel *telemetry.Publisher) *Service {
	return &Service{
		cfg:       cfg,
		registry:  reg,
		streams:   streams,
		hub:       hub,
		telemetry: tel,
	}
}

// Start discovers the configured cameras and launches the telemetry loop.
// Discovery failures for individual cameras are recorded in the registry,
// not returned: partial coverage beats no coverage.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.registry.Discover(runCtx, s.cfg.Cameras)
	log.Printf("[vigil] discovery done, %d cameras known", len(s.registry.List()))

	if s.telemetry != nil {
		go s.telemetry.Run(runCtx)
	}
	return nil
}

// Stop tears the pipeline down: stream workers drain, in-flight alert
// distribution finishes, camera connections close.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.streams.Close()
	s.hub.Close()
	s.registry.Close()
	log.Printf("[vigil] stopped")
}

// Rediscover re-runs discovery for a subset of cameras, idempotently
// overwriting their registry state. Used for manual reconnects.
func (s *Service) Rediscover(ctx context.Context, descriptors []core.CameraDescriptor) {
	s.registry.Discover(ctx, descriptors)
}

func (s *Service) ListCameras() []core.Camera { return s.registry.List() }

func (s *Service) GetCamera(id string) (core.Camera, error) { return s.registry.Get(id) }

func (s *Service) StartStream(cameraID string, opts stream.Options) (stream.Handle, error) {
	return s.streams.StartStream(cameraID, opts)
}

func (s *Service) StopStream(cameraID string) error { return s.streams.StopStream(cameraID) }

func (s *Service) GetStreamStatus(cameraID string) stream.StatusInfo {
	return s.streams.Status(cameraID)
}

func (s *Service) GetAlerts(filter core.AlertFilter) []core.Alert { return s.hub.GetAlerts(filter) }

func (s *Service) GetAlert(id string) (core.Alert, error) { return s.hub.GetAlert(id) }

func (s *Service) AcknowledgeAlert(id, actor, notes string) (core.Alert, error) {
	return s.hub.Acknowledge(id, actor, notes)
}

func (s *Service) EscalateAlert(id, level, notes string) (core.Alert, error) {
	return s.hub.Escalate(id, level, notes)
}

func (s *Service) ResolveAlert(id, actor, resolution string) (core.Alert, error) {
	return s.hub.Resolve(id, actor, resolution)
}

func (s *Service) GetStats() alerthub.Stats { return s.hub.Stats() }

// SubscribeTelemetry hands dashboards a snapshot feed.
func (s *Service) SubscribeTelemetry(buffer int) (<-chan telemetry.Snapshot, func()) {
	return s.telemetry.Subscribe(buffer)
}
