package stream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/inference"
	"github.com/azora-io/vigil-core/internal/registry"
	"github.com/azora-io/vigil-core/internal/storage"
)

// AlertSink receives alert requests for qualifying detections. Satisfied
// by *alerthub.Hub.
type AlertSink interface {
	GenerateAlert(req core.AlertRequest) core.Alert
}

type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusActive   SessionStatus = "active"
	StatusStopping SessionStatus = "stopping"
	StatusInactive SessionStatus = "inactive"
)

type Config struct {
	Site                string
	ConfidenceThreshold float64
	FrameBuffer         int

	// Snapshots is optional; when set, the frame that produced a
	// qualifying detection is persisted and its URL attached to the alert.
	Snapshots storage.SnapshotStore
}

// Supervisor owns one frame-ingestion worker per active camera. Workers
// are independent units of concurrency: a slow inference call on one
// camera never blocks another camera's loop.
type Supervisor struct {
	registry *registry.Registry
	infer    *inference.Runner
	sink     AlertSink
	cfg      Config

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	cameraID  string
	startedAt time.Time
	status    SessionStatus

	frameCount atomic.Int64

	// cancel stops the frame producer only. Frames already buffered are
	// still drained and their detections still reach the hub.
	cancel context.CancelFunc
	done   chan struct{}
}

// Options tunes one session. Zero values fall back to supervisor config.
type Options struct {
	ConfidenceThreshold float64
}

// Handle describes a started session and where its output lands.
type Handle struct {
	CameraID   string    `json:"camera_id"`
	StartedAt  time.Time `json:"started_at"`
	AlertTopic string    `json:"alert_topic"`
}

type StatusInfo struct {
	Status     SessionStatus `json:"status"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	FrameCount int64         `json:"frame_count,omitempty"`
	FPS        float64       `json:"fps,omitempty"`
}

func New(reg *registry.Registry, infer *inference.Runner, sink AlertSink, cfg Config) *Supervisor {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.8
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: reg,
		infer:    infer,
		sink:     sink,
		cfg:      cfg,
		baseCtx:  ctx,
		stop:     cancel,
		sessions: make(map[string]*session),
	}
}

// StartStream opens the camera's frame source and spins up its worker.
// Duplicate starts are rejected with ErrAlreadyActive; callers must stop
// before restarting.
func (s *Supervisor) StartStream(cameraID string, opts Options) (Handle, error) {
	threshold := s.cfg.ConfidenceThreshold
	if opts.ConfidenceThreshold > 0 {
		threshold = opts.ConfidenceThreshold
	}

	// Reserve the session slot first so a concurrent duplicate start is
	// rejected without holding the lock across the (possibly slow) source
	// open below.
	streamCtx, cancel := context.WithCancel(s.baseCtx)
	sess := &session{
		cameraID:  cameraID,
		startedAt: time.Now().UTC(),
		status:    StatusStarting,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.sessions[cameraID]; exists {
		s.mu.Unlock()
		cancel()
		return Handle{}, fmt.Errorf("camera %s: %w", cameraID, core.ErrAlreadyActive)
	}
	s.sessions[cameraID] = sess
	s.mu.Unlock()

	conn, err := s.registry.Connection(cameraID)
	if err != nil {
		s.abortStart(cameraID, sess)
		return Handle{}, err
	}

	source, err := conn.OpenSource()
	if err != nil {
		s.abortStart(cameraID, sess)
		return Handle{}, fmt.Errorf("camera %s: open frame source: %w", cameraID, err)
	}

	frames := make(chan core.Frame, s.cfg.FrameBuffer)

	log.Printf("[stream] starting worker for camera %s (threshold=%.2f)", cameraID, threshold)

	// Producer: pulls frames from the camera until the session is stopped
	// or the source dies. Closing the channel is the drain signal for the
	// consumer.
	go func() {
		defer close(frames)
		if err := source.Stream(streamCtx, frames); err != nil && streamCtx.Err() == nil {
			log.Printf("[stream] camera %s frame source failed: %v", cameraID, err)
			s.registry.MarkError(cameraID, err)
		}
	}()

	// Consumer: the hot path. Processes every accepted frame, including
	// ones buffered at stop time, so no alert is lost.
	go func() {
		defer func() {
			s.removeSession(cameraID, sess)
			close(sess.done)
		}()
		s.setStatus(sess, StatusActive)

		for frame := range frames {
			sess.frameCount.Add(1)
			s.processFrame(frame, threshold)
		}
	}()

	return Handle{
		CameraID:   cameraID,
		StartedAt:  sess.startedAt,
		AlertTopic: fmt.Sprintf("vigil/%s/%s/alerts", s.cfg.Site, cameraID),
	}, nil
}

// processFrame runs inference and promotes qualifying detections to alert
// requests. Inference runs under the supervisor's base context, not the
// session context: an in-flight frame finishes even if the session was
// just stopped.
func (s *Supervisor) processFrame(frame core.Frame, threshold float64) {
	detections := s.infer.Infer(s.baseCtx, frame)
	for _, det := range detections {
		if det.Confidence <= threshold {
			continue
		}

		req := core.AlertRequest{
			Type:       det.Type,
			CameraID:   frame.CameraID,
			Zone:       det.Zone,
			Confidence: det.Confidence,
			TrackID:    det.TrackID,
			BBox:       det.BBox,
			FrameTime:  det.FrameTime,
		}
		if req.FrameTime.IsZero() {
			req.FrameTime = frame.Timestamp
		}
		if s.cfg.Snapshots != nil && len(frame.Data) > 0 {
			req.SnapshotURL = s.saveSnapshot(frame, det)
		}

		s.sink.GenerateAlert(req)
	}
}

func (s *Supervisor) saveSnapshot(frame core.Frame, det core.Detection) string {
	key := fmt.Sprintf("%s/%s/%d_%s.jpg",
		s.cfg.Site, frame.CameraID, frame.Timestamp.UnixNano(), det.Type)

	ctx, cancel := context.WithTimeout(s.baseCtx, 5*time.Second)
	defer cancel()

	url, err := s.cfg.Snapshots.SaveSnapshot(ctx, key, frame.Data, "image/jpeg")
	if err != nil {
		log.Printf("[stream] camera %s: snapshot upload failed: %v", frame.CameraID, err)
		return ""
	}
	return url
}

// StopStream signals no-more-frames and waits for the worker to drain
// frames accepted before the stop. Frames arriving after the signal are
// discarded at the source.
func (s *Supervisor) StopStream(cameraID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[cameraID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("camera %s: %w", cameraID, core.ErrStreamNotFound)
	}
	sess.status = StatusStopping
	s.mu.Unlock()

	log.Printf("[stream] stopping worker for camera %s", cameraID)
	sess.cancel()
	<-sess.done
	return nil
}

// Status reports the session state for one camera, or inactive when no
// session exists.
func (s *Supervisor) Status(cameraID string) StatusInfo {
	s.mu.Lock()
	sess, ok := s.sessions[cameraID]
	var status SessionStatus
	if ok {
		status = sess.status
	}
	s.mu.Unlock()

	if !ok {
		return StatusInfo{Status: StatusInactive}
	}
	return sess.info(status)
}

// info computes the derived view. Status is captured by the caller under
// the supervisor lock; the frame counter is an atomic so the hot path is
// never touched.
func (sess *session) info(status SessionStatus) StatusInfo {
	uptime := time.Since(sess.startedAt)
	frames := sess.frameCount.Load()

	var fps float64
	if secs := uptime.Seconds(); secs > 0 {
		fps = float64(frames) / secs
	}
	return StatusInfo{
		Status:     status,
		Uptime:     uptime,
		FrameCount: frames,
		FPS:        fps,
	}
}

// Snapshot reports all live sessions, keyed by camera id. Telemetry reads
// this without blocking the hot path: frame counters are atomics and the
// map lock is held only for the copy.
func (s *Supervisor) Snapshot() map[string]StatusInfo {
	type liveSession struct {
		sess   *session
		status SessionStatus
	}

	s.mu.Lock()
	live := make([]liveSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, liveSession{sess: sess, status: sess.status})
	}
	s.mu.Unlock()

	out := make(map[string]StatusInfo, len(live))
	for _, ls := range live {
		out[ls.sess.cameraID] = ls.sess.info(ls.status)
	}
	return out
}

func (s *Supervisor) abortStart(cameraID string, sess *session) {
	sess.cancel()
	s.removeSession(cameraID, sess)
	close(sess.done)
}

func (s *Supervisor) setStatus(sess *session, status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Don't regress a session already marked stopping.
	if sess.status == StatusStopping && status == StatusActive {
		return
	}
	sess.status = status
}

func (s *Supervisor) removeSession(cameraID string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[cameraID]; ok && current == sess {
		delete(s.sessions, cameraID)
	}
}

// Close stops every worker and waits for them to drain.
func (s *Supervisor) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.status = StatusStopping
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
	}
	for _, sess := range sessions {
		<-sess.done
	}
	s.stop()
}
