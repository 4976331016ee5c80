package vigil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azora-io/vigil-core/internal/alerthub"
	"github.com/azora-io/vigil-core/internal/config"
	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/inference"
	"github.com/azora-io/vigil-core/internal/registry"
	"github.com/azora-io/vigil-core/internal/stream"
	"github.com/azora-io/vigil-core/internal/telemetry"
)

func newService(t *testing.T) *Service {
	t.Helper()

	cfg := config.Config{
		Site: "hq",
		Cameras: []core.CameraDescriptor{
			{ID: "cam-a", Host: "10.0.0.1", Manufacturer: "simulated", Zone: "entrance"},
		},
		ConfidenceThreshold: 0.8,
		ConnectTimeout:      time.Second,
		TelemetryInterval:   50 * time.Millisecond,
	}

	engine := inference.Func(func(_ context.Context, frame core.Frame) ([]core.Detection, error) {
		return []core.Detection{{Type: "person", Confidence: 0.92, Zone: "entrance"}}, nil
	})

	reg := registry.New(cfg.ConnectTimeout)
	hub := alerthub.New(cfg.Site)
	streams := stream.New(reg, inference.NewRunner(engine, time.Second), hub, stream.Config{
		Site:                cfg.Site,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	tel := telemetry.New(cfg.Site, cfg.TelemetryInterval, reg, streams, hub, nil)

	return NewService(cfg, reg, streams, hub, tel)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServiceEndToEnd(t *testing.T) {
	svc := newService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	cams := svc.ListCameras()
	if len(cams) != 1 || cams[0].Status != core.CameraConnected {
		t.Fatalf("cameras after discovery = %+v", cams)
	}
	if _, err := svc.GetCamera("ghost"); !errors.Is(err, core.ErrCameraNotFound) {
		t.Fatalf("get ghost camera: %v", err)
	}

	handle, err := svc.StartStream("cam-a", stream.Options{})
	if err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if handle.AlertTopic != "vigil/hq/cam-a/alerts" {
		t.Fatalf("alert topic = %q", handle.AlertTopic)
	}

	waitFor(t, "alerts from the simulated camera", func() bool {
		return len(svc.GetAlerts(core.AlertFilter{CameraID: "cam-a"})) > 0
	})

	alerts := svc.GetAlerts(core.AlertFilter{})
	first := alerts[len(alerts)-1] // oldest

	if _, err := svc.AcknowledgeAlert(first.ID, "op1", "looking"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := svc.EscalateAlert(first.ID, "high", "confirmed intruder"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if _, err := svc.ResolveAlert(first.ID, "op1", "handled"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.AcknowledgeAlert(first.ID, "op2", "late"); !errors.Is(err, core.ErrAlertAlreadyResolved) {
		t.Fatalf("ack after resolve: %v", err)
	}

	stats := svc.GetStats()
	if stats.Total == 0 || stats.Resolved != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	ch, unsubscribe := svc.SubscribeTelemetry(1)
	defer unsubscribe()
	select {
	case snap := <-ch:
		if snap.ActiveStreams != 1 {
			t.Fatalf("telemetry active streams = %d", snap.ActiveStreams)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no telemetry snapshot delivered")
	}

	if err := svc.StopStream("cam-a"); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	if got := svc.GetStreamStatus("cam-a").Status; got != stream.StatusInactive {
		t.Fatalf("status after stop = %s", got)
	}
}
