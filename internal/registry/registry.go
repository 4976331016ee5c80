package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
)

// Registry owns camera connection state. It is the only writer of camera
// status; every other component reads copies. Cameras are never deleted
// during the process lifetime; re-discovery overwrites in place.
type Registry struct {
	mu      sync.RWMutex
	cameras map[string]*entry

	connectTimeout time.Duration
	resolve        func(core.CameraDescriptor) (Connector, error)
}

type entry struct {
	cam  core.Camera
	conn Connection
}

type Option func(*Registry)

// WithResolver overrides connector lookup. Used by tests to plug fakes in
// without touching the package-level factory table.
func WithResolver(resolve func(core.CameraDescriptor) (Connector, error)) Option {
	return func(r *Registry) { r.resolve = resolve }
}

func New(connectTimeout time.Duration, opts ...Option) *Registry {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	r := &Registry{
		cameras:        make(map[string]*entry),
		connectTimeout: connectTimeout,
		resolve:        GetConnector,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover attempts a bounded-timeout connection to every descriptor.
// One camera's failure never aborts the rest; the failed camera is
// recorded as disconnected with its error and discovery moves on.
func (r *Registry) Discover(ctx context.Context, descriptors []core.CameraDescriptor) {
	for _, desc := range descriptors {
		if ctx.Err() != nil {
			return
		}
		r.discoverOne(ctx, desc)
	}
}

func (r *Registry) discoverOne(ctx context.Context, desc core.CameraDescriptor) {
	cam := core.Camera{Descriptor: desc, Status: core.CameraDisconnected}

	connector, err := r.resolve(desc)
	if err != nil {
		cam.LastError = err.Error()
		log.Printf("[registry] camera %s: %v", desc.ID, err)
		r.store(cam, nil)
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn, err := connector.Connect(connectCtx, desc)
	if err != nil {
		cam.LastError = err.Error()
		log.Printf("[registry] camera %s connect failed: %v", desc.ID, err)
		r.store(cam, nil)
		return
	}

	cam.Status = core.CameraConnected
	cam.Capabilities = conn.Capabilities()
	cam.LastSeenAt = time.Now().UTC()
	log.Printf("[registry] camera %s connected (%s %s, capabilities=%v)",
		desc.ID, desc.Manufacturer, desc.Model, cam.Capabilities)
	r.store(cam, conn)
}

// store overwrites the entry for cam's id, closing any previous
// connection that is being replaced.
func (r *Registry) store(cam core.Camera, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.cameras[cam.ID()]; ok && prev.conn != nil && prev.conn != conn {
		if err := prev.conn.Close(); err != nil {
			log.Printf("[registry] camera %s: close previous connection: %v", cam.ID(), err)
		}
	}
	r.cameras[cam.ID()] = &entry{cam: cam, conn: conn}
}

// List returns a snapshot of all known cameras.
func (r *Registry) List() []core.Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Camera, 0, len(r.cameras))
	for _, e := range r.cameras {
		out = append(out, e.cam)
	}
	return out
}

func (r *Registry) Get(id string) (core.Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cameras[id]
	if !ok {
		return core.Camera{}, fmt.Errorf("camera %s: %w", id, core.ErrCameraNotFound)
	}
	return e.cam, nil
}

// Connection returns the live link for a connected camera. The stream
// supervisor uses this to open a frame source.
func (r *Registry) Connection(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("camera %s: %w", id, core.ErrCameraNotFound)
	}
	if e.cam.Status != core.CameraConnected || e.conn == nil {
		return nil, fmt.Errorf("camera %s: %w", id, core.ErrCameraUnavailable)
	}
	return e.conn, nil
}

// MarkError records a runtime failure observed on an established
// connection (e.g. the frame source died). Status goes to error; a later
// Discover for the same id overwrites it.
func (r *Registry) MarkError(id string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cameras[id]
	if !ok {
		return
	}
	e.cam.Status = core.CameraError
	if cause != nil {
		e.cam.LastError = cause.Error()
	}
}

// CountByStatus feeds telemetry. Computed at read time under the read lock.
func (r *Registry) CountByStatus() map[core.CameraStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[core.CameraStatus]int, 3)
	for _, e := range r.cameras {
		out[e.cam.Status]++
	}
	return out
}

// Close releases every held connection. Camera entries survive so status
// is still inspectable after shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.cameras {
		if e.conn == nil {
			continue
		}
		if err := e.conn.Close(); err != nil {
			log.Printf("[registry] camera %s: close: %v", id, err)
		}
		e.conn = nil
		e.cam.Status = core.CameraDisconnected
	}
}
