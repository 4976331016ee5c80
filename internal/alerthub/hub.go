package alerthub

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azora-io/vigil-core/internal/config"
	"github.com/azora-io/vigil-core/internal/core"
)

// BrokerPublisher is the pub/sub broker channel (MQTT in production).
type BrokerPublisher interface {
	PublishJSON(topic string, qos byte, retained bool, v any) error
}

// BusPublisher is the optional cloud event bus channel (NATS in production).
type BusPublisher interface {
	Publish(subject string, payload any) error
}

// Hub owns the canonical alert store, lifecycle transitions and fan-out
// distribution. It is the only multi-writer component on the hot path:
// every camera worker calls GenerateAlert concurrently.
type Hub struct {
	site  string
	model string

	broker          BrokerPublisher
	bus             BusPublisher
	dispatcher      *WebhookDispatcher
	alertHooks      []config.Webhook
	escalationHooks []config.Webhook

	mu      sync.RWMutex
	byID    map[string]*core.Alert
	ordered []*core.Alert

	// distributions tracks in-flight fan-out so Close can drain it.
	distributions sync.WaitGroup
}

type HubOption func(*Hub)

// WithBroker wires the pub/sub broker channel.
func WithBroker(b BrokerPublisher) HubOption {
	return func(h *Hub) { h.broker = b }
}

// WithEventBus wires the cloud event bus channel. Leaving it unset simply
// skips that channel.
func WithEventBus(b BusPublisher) HubOption {
	return func(h *Hub) { h.bus = b }
}

// WithWebhooks wires the webhook channels from configuration.
func WithWebhooks(dispatcher *WebhookDispatcher, alert, escalation []config.Webhook) HubOption {
	return func(h *Hub) {
		h.dispatcher = dispatcher
		h.alertHooks = alert
		h.escalationHooks = escalation
	}
}

// WithModel records the inference model name carried in envelopes.
func WithModel(name string) HubOption {
	return func(h *Hub) { h.model = name }
}

func New(site string, opts ...HubOption) *Hub {
	h := &Hub{
		site: site,
		byID: make(map[string]*core.Alert),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GenerateAlert assigns identity, appends to the store and kicks off
// fan-out distribution in the background. It returns the created alert as
// soon as the store write is done; distribution failures never reach the
// caller.
func (h *Hub) GenerateAlert(req core.AlertRequest) core.Alert {
	alert := core.Alert{
		Type:        req.Type,
		CameraID:    req.CameraID,
		Zone:        req.Zone,
		Severity:    core.NormalizeSeverity(req.Severity),
		Confidence:  clampConfidence(req.Confidence),
		TrackID:     req.TrackID,
		BBox:        req.BBox,
		FrameTime:   req.FrameTime,
		SnapshotURL: req.SnapshotURL,
	}

	h.mu.Lock()
	// ID and CreatedAt are assigned under the lock so store order and
	// created_at order agree for same-camera alerts.
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now().UTC()
	stored := alert
	h.byID[alert.ID] = &stored
	h.ordered = append(h.ordered, &stored)
	h.mu.Unlock()

	h.distributions.Add(1)
	go func() {
		defer h.distributions.Done()
		h.distribute(alert)
	}()

	return alert
}

// distribute fans the alert out to every configured channel. Channels are
// isolated: a failure in one is logged and the others still run.
func (h *Hub) distribute(alert core.Alert) {
	if h.broker != nil {
		topic := fmt.Sprintf("vigil/%s/%s/alerts", h.site, alert.CameraID)
		if err := h.broker.PublishJSON(topic, 1, false, alert); err != nil {
			log.Printf("[alerthub] broker publish %s failed: %v", topic, err)
		}
	}

	if h.bus != nil {
		env := NewEnvelope(h.site, h.model, alert)
		subject := fmt.Sprintf("vigil.alerts.%s.%s", h.site, alert.CameraID)
		if err := h.bus.Publish(subject, env); err != nil {
			log.Printf("[alerthub] event bus publish %s failed: %v", subject, err)
		}
	}

	if h.dispatcher != nil {
		h.dispatcher.Deliver(h.alertHooks, alert)
	}
}

// GetAlerts returns matching alerts newest-first.
func (h *Hub) GetAlerts(filter core.AlertFilter) []core.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]core.Alert, 0, len(h.ordered))
	for i := len(h.ordered) - 1; i >= 0; i-- {
		a := h.ordered[i]
		if !matches(a, filter) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func matches(a *core.Alert, f core.AlertFilter) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.CameraID != "" && a.CameraID != f.CameraID {
		return false
	}
	if f.Acknowledged != nil && a.Acknowledged.Set() != *f.Acknowledged {
		return false
	}
	if f.Escalated != nil && a.Escalated.Set() != *f.Escalated {
		return false
	}
	return true
}

func (h *Hub) GetAlert(id string) (core.Alert, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.byID[id]
	if !ok {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertNotFound)
	}
	return *a, nil
}

// Acknowledge sets the acknowledged mark. Re-acknowledging is a no-op that
// keeps the first actor and timestamp.
func (h *Hub) Acknowledge(id, actor, notes string) (core.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.byID[id]
	if !ok {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertNotFound)
	}
	if a.Resolved.Set() {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertAlreadyResolved)
	}
	if !a.Acknowledged.Set() {
		a.Acknowledged = core.LifecycleMark{Actor: actor, Notes: notes, At: time.Now().UTC()}
	}
	return *a, nil
}

// Escalate sets the escalated mark and runs a secondary distribution pass
// over the escalation webhook set. Escalation does not require prior
// acknowledgment.
func (h *Hub) Escalate(id, level, notes string) (core.Alert, error) {
	h.mu.Lock()
	a, ok := h.byID[id]
	if !ok {
		h.mu.Unlock()
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertNotFound)
	}
	if a.Resolved.Set() {
		h.mu.Unlock()
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertAlreadyResolved)
	}
	first := !a.Escalated.Set()
	if first {
		a.Escalated = core.LifecycleMark{Notes: notes, At: time.Now().UTC()}
		a.EscalationLevel = level
	}
	escalated := *a
	h.mu.Unlock()

	if first && h.dispatcher != nil {
		h.distributions.Add(1)
		go func() {
			defer h.distributions.Done()
			h.dispatcher.Deliver(h.escalationHooks, escalated)
		}()
	}
	return escalated, nil
}

// Resolve sets the terminal resolved mark. Any lifecycle call after this
// fails with ErrAlertAlreadyResolved.
func (h *Hub) Resolve(id, actor, resolution string) (core.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.byID[id]
	if !ok {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertNotFound)
	}
	if a.Resolved.Set() {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, core.ErrAlertAlreadyResolved)
	}
	a.Resolved = core.LifecycleMark{Actor: actor, Notes: resolution, At: time.Now().UTC()}
	return *a, nil
}

// Stats aggregates counts by severity and lifecycle flag plus the mean
// time-to-resolution over resolved alerts. Computed at read time.
type Stats struct {
	Total         int                   `json:"total"`
	BySeverity    map[core.Severity]int `json:"by_severity"`
	Acknowledged  int                   `json:"acknowledged"`
	Escalated     int                   `json:"escalated"`
	Resolved      int                   `json:"resolved"`
	AvgResolution time.Duration         `json:"avg_resolution_ns"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Total:      len(h.ordered),
		BySeverity: make(map[core.Severity]int, 4),
	}
	var resolvedSum time.Duration
	for _, a := range h.ordered {
		s.BySeverity[a.Severity]++
		if a.Acknowledged.Set() {
			s.Acknowledged++
		}
		if a.Escalated.Set() {
			s.Escalated++
		}
		if a.Resolved.Set() {
			s.Resolved++
			resolvedSum += a.Resolved.At.Sub(a.CreatedAt)
		}
	}
	if s.Resolved > 0 {
		s.AvgResolution = resolvedSum / time.Duration(s.Resolved)
	}
	return s
}

// Close waits for in-flight distribution goroutines to finish. The store
// stays readable after close.
func (h *Hub) Close() {
	h.distributions.Wait()
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
