package inference

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
)

// Engine is the detection backend contract. It receives one frame and
// returns zero or more detections for it.
//
// Engines must return within the runner's timeout; a slow or failing call
// is treated as "no detections for this frame" by the pipeline.
type Engine interface {
	Name() string
	Infer(ctx context.Context, frame core.Frame) ([]core.Detection, error)
}

// Noop returns an engine that never detects anything. Used when no real
// backend is configured: the pipeline still runs, streams still count
// frames, no alerts fire.
func Noop() Engine { return noopEngine{} }

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Infer(context.Context, core.Frame) ([]core.Detection, error) {
	return nil, nil
}

// Func adapts a plain function to the Engine interface. Handy in tests.
type Func func(ctx context.Context, frame core.Frame) ([]core.Detection, error)

func (f Func) Name() string { return "func" }

func (f Func) Infer(ctx context.Context, frame core.Frame) ([]core.Detection, error) {
	return f(ctx, frame)
}

// Runner wraps an engine with a per-call timeout and panic protection so a
// misbehaving backend can never take a camera worker down. Failures are
// logged and surface only as an empty detection list.
type Runner struct {
	engine  Engine
	timeout time.Duration
}

func NewRunner(engine Engine, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{engine: engine, timeout: timeout}
}

// Infer never returns an error: an engine failure for a single frame is
// non-fatal and maps to zero detections.
func (r *Runner) Infer(ctx context.Context, frame core.Frame) []core.Detection {
	if r == nil || r.engine == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detections, err := func() (dets []core.Detection, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[inference] panic in engine %s: %v\n%s", r.engine.Name(), rec, string(debug.Stack()))
				dets = nil
				err = nil
			}
		}()
		return r.engine.Infer(callCtx, frame)
	}()
	if err != nil {
		log.Printf("[inference] engine %s failed for camera %s: %v", r.engine.Name(), frame.CameraID, err)
		return nil
	}
	return detections
}
