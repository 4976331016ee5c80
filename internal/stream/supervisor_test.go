package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/inference"
	"github.com/azora-io/vigil-core/internal/registry"
)

// stubSource forwards frames from an input channel so tests control
// exactly what the camera "produces".
type stubSource struct {
	in chan core.Frame
}

func (s *stubSource) Stream(ctx context.Context, frames chan<- core.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-s.in:
			if !ok {
				return nil
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

type stubConnection struct {
	src *stubSource
}

func (c *stubConnection) Capabilities() []string { return []string{"video"} }

func (c *stubConnection) OpenSource() (registry.FrameSource, error) { return c.src, nil }

func (c *stubConnection) Close() error { return nil }

type stubConnector struct {
	conns map[string]*stubConnection
}

func (c *stubConnector) Connect(ctx context.Context, desc core.CameraDescriptor) (registry.Connection, error) {
	conn, ok := c.conns[desc.ID]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return conn, nil
}

type recordSink struct {
	mu       sync.Mutex
	requests []core.AlertRequest
}

func (s *recordSink) GenerateAlert(req core.AlertRequest) core.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return core.Alert{ID: "recorded", CameraID: req.CameraID}
}

func (s *recordSink) snapshot() []core.AlertRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AlertRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func newTestRegistry(t *testing.T, conns map[string]*stubConnection) *registry.Registry {
	t.Helper()
	connector := &stubConnector{conns: conns}
	reg := registry.New(time.Second, registry.WithResolver(
		func(core.CameraDescriptor) (registry.Connector, error) { return connector, nil },
	))

	descriptors := make([]core.CameraDescriptor, 0, len(conns)+1)
	for id := range conns {
		descriptors = append(descriptors, core.CameraDescriptor{ID: id, Host: "h"})
	}
	// One camera that always fails to connect.
	descriptors = append(descriptors, core.CameraDescriptor{ID: "cam-down", Host: "h"})
	reg.Discover(context.Background(), descriptors)
	return reg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func detectEngine(confidences ...float64) inference.Engine {
	return inference.Func(func(_ context.Context, frame core.Frame) ([]core.Detection, error) {
		dets := make([]core.Detection, 0, len(confidences))
		for _, c := range confidences {
			dets = append(dets, core.Detection{
				Type:       "person",
				Confidence: c,
				Zone:       "entrance",
				FrameTime:  frame.Timestamp,
			})
		}
		return dets, nil
	})
}

func TestStartStreamUnavailableCamera(t *testing.T) {
	reg := newTestRegistry(t, map[string]*stubConnection{})
	sup := New(reg, inference.NewRunner(inference.Noop(), time.Second), &recordSink{}, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-down", Options{}); !errors.Is(err, core.ErrCameraUnavailable) {
		t.Fatalf("err = %v, want ErrCameraUnavailable", err)
	}
	if _, err := sup.StartStream("ghost", Options{}); !errors.Is(err, core.ErrCameraNotFound) {
		t.Fatalf("err = %v, want ErrCameraNotFound", err)
	}
}

func TestDuplicateStartRejected(t *testing.T) {
	conns := map[string]*stubConnection{
		"cam-a": {src: &stubSource{in: make(chan core.Frame)}},
		"cam-b": {src: &stubSource{in: make(chan core.Frame)}},
	}
	reg := newTestRegistry(t, conns)
	sup := New(reg, inference.NewRunner(inference.Noop(), time.Second), &recordSink{}, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := sup.StartStream("cam-b", Options{}); err != nil {
		t.Fatalf("start cam-b: %v", err)
	}

	if _, err := sup.StartStream("cam-a", Options{}); !errors.Is(err, core.ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}

	// The rejection must not have disturbed either running session.
	waitFor(t, "cam-a active", func() bool { return sup.Status("cam-a").Status == StatusActive })
	waitFor(t, "cam-b active", func() bool { return sup.Status("cam-b").Status == StatusActive })
}

func TestConfidenceThresholdGating(t *testing.T) {
	src := &stubSource{in: make(chan core.Frame, 4)}
	reg := newTestRegistry(t, map[string]*stubConnection{"cam-a": {src: src}})

	sink := &recordSink{}
	sup := New(reg, inference.NewRunner(detectEngine(0.92, 0.5), time.Second), sink, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.in <- core.Frame{CameraID: "cam-a", Timestamp: time.Now().UTC()}

	waitFor(t, "one alert request", func() bool { return len(sink.snapshot()) == 1 })

	reqs := sink.snapshot()
	if reqs[0].Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92 (the 0.5 detection must be dropped)", reqs[0].Confidence)
	}
	if reqs[0].CameraID != "cam-a" || reqs[0].Type != "person" {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
}

func TestAcceptedFramesDrainOnSourceEnd(t *testing.T) {
	src := &stubSource{in: make(chan core.Frame, 3)}
	for i := 0; i < 3; i++ {
		src.in <- core.Frame{CameraID: "cam-a", Timestamp: time.Now().UTC()}
	}
	close(src.in)

	reg := newTestRegistry(t, map[string]*stubConnection{"cam-a": {src: src}})
	sink := &recordSink{}
	sup := New(reg, inference.NewRunner(detectEngine(0.95), time.Second), sink, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Every accepted frame still reaches the sink, then the session
	// cleans itself up.
	waitFor(t, "three alert requests", func() bool { return len(sink.snapshot()) == 3 })
	waitFor(t, "session inactive", func() bool { return sup.Status("cam-a").Status == StatusInactive })
}

func TestStopStream(t *testing.T) {
	src := &stubSource{in: make(chan core.Frame)}
	reg := newTestRegistry(t, map[string]*stubConnection{"cam-a": {src: src}})
	sup := New(reg, inference.NewRunner(inference.Noop(), time.Second), &recordSink{}, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.StopStream("cam-a"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := sup.Status("cam-a").Status; got != StatusInactive {
		t.Fatalf("status after stop = %s, want inactive", got)
	}
	if err := sup.StopStream("cam-a"); !errors.Is(err, core.ErrStreamNotFound) {
		t.Fatalf("second stop err = %v, want ErrStreamNotFound", err)
	}

	// Stopped cameras can be started again.
	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestStatusCountsFrames(t *testing.T) {
	src := &stubSource{in: make(chan core.Frame, 8)}
	reg := newTestRegistry(t, map[string]*stubConnection{"cam-a": {src: src}})
	sup := New(reg, inference.NewRunner(inference.Noop(), time.Second), &recordSink{}, Config{Site: "hq"})
	defer sup.Close()

	handle, err := sup.StartStream("cam-a", Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if handle.AlertTopic != "vigil/hq/cam-a/alerts" {
		t.Fatalf("alert topic = %q", handle.AlertTopic)
	}

	for i := 0; i < 5; i++ {
		src.in <- core.Frame{CameraID: "cam-a", Timestamp: time.Now().UTC()}
	}

	waitFor(t, "five frames counted", func() bool { return sup.Status("cam-a").FrameCount == 5 })

	info := sup.Status("cam-a")
	if info.Uptime <= 0 {
		t.Fatalf("uptime = %v", info.Uptime)
	}
	if info.FPS <= 0 {
		t.Fatalf("fps = %v", info.FPS)
	}
}

func TestInferenceFailureIsNonFatal(t *testing.T) {
	src := &stubSource{in: make(chan core.Frame, 4)}
	reg := newTestRegistry(t, map[string]*stubConnection{"cam-a": {src: src}})

	calls := 0
	var mu sync.Mutex
	engine := inference.Func(func(_ context.Context, frame core.Frame) ([]core.Detection, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("backend hiccup")
		}
		return []core.Detection{{Type: "person", Confidence: 0.9}}, nil
	})

	sink := &recordSink{}
	sup := New(reg, inference.NewRunner(engine, time.Second), sink, Config{Site: "hq"})
	defer sup.Close()

	if _, err := sup.StartStream("cam-a", Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.in <- core.Frame{CameraID: "cam-a"}
	src.in <- core.Frame{CameraID: "cam-a"}

	// First frame fails inference and yields nothing; the stream keeps
	// going and the second frame alerts.
	waitFor(t, "one alert after failed frame", func() bool { return len(sink.snapshot()) == 1 })
	waitFor(t, "both frames counted", func() bool { return sup.Status("cam-a").FrameCount == 2 })
}
