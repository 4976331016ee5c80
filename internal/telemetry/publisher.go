package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/azora-io/vigil-core/internal/alerthub"
	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/registry"
	"github.com/azora-io/vigil-core/internal/stream"
)

// Snapshot is one telemetry sample. Everything is computed at read time
// from the live components; nothing here is stored derived state.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Site      string    `json:"site"`
	Hostname  string    `json:"hostname,omitempty"`

	Cameras       map[core.CameraStatus]int    `json:"cameras"`
	ActiveStreams int                          `json:"active_streams"`
	TotalFrames   int64                        `json:"total_frames"`
	AggregateFPS  float64                      `json:"aggregate_fps"`
	Streams       map[string]stream.StatusInfo `json:"streams,omitempty"`

	Alerts alerthub.Stats `json:"alerts"`

	Process ProcessStats `json:"process"`
}

type ProcessStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
}

// BrokerPublisher mirrors the MQTT client surface telemetry needs.
type BrokerPublisher interface {
	PublishJSON(topic string, qos byte, retained bool, v any) error
}

// Publisher samples the registry, stream supervisor and alert hub on a
// fixed interval and broadcasts the snapshot. It only ever takes read
// locks on the sampled components; a slow subscriber drops samples rather
// than holding anything up.
type Publisher struct {
	site     string
	interval time.Duration

	registry *registry.Registry
	streams  *stream.Supervisor
	alerts   *alerthub.Hub
	broker   BrokerPublisher

	proc     *process.Process
	hostname string

	mu   sync.Mutex
	subs map[int]chan Snapshot
	next int
}

func New(site string, interval time.Duration, reg *registry.Registry, streams *stream.Supervisor, alerts *alerthub.Hub, broker BrokerPublisher) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hostname, _ := os.Hostname()

	var proc *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		proc = p
	}

	return &Publisher{
		site:     site,
		interval: interval,
		registry: reg,
		streams:  streams,
		alerts:   alerts,
		broker:   broker,
		proc:     proc,
		hostname: hostname,
		subs:     make(map[int]chan Snapshot),
	}
}

// Subscribe registers a snapshot consumer. The returned cancel function
// removes the subscription and closes the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if existing, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(existing)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// Run ticks until the context is canceled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("[telemetry] loop started (interval=%s)", p.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[telemetry] loop stopped")
			return
		case t := <-ticker.C:
			p.publish(t.UTC())
		}
	}
}

func (p *Publisher) publish(now time.Time) {
	snap := p.Collect(now)

	p.mu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber is behind; the next tick self-corrects.
		}
	}
	p.mu.Unlock()

	if p.broker != nil {
		topic := fmt.Sprintf("vigil/%s/telemetry", p.site)
		if err := p.broker.PublishJSON(topic, 1, true, snap); err != nil {
			log.Printf("[telemetry] publish %s failed: %v", topic, err)
		}
	}
}

// Collect builds a snapshot from the live components.
func (p *Publisher) Collect(now time.Time) Snapshot {
	snap := Snapshot{
		Timestamp: now,
		Site:      p.site,
		Hostname:  p.hostname,
		Cameras:   p.registry.CountByStatus(),
		Streams:   p.streams.Snapshot(),
		Alerts:    p.alerts.Stats(),
	}

	for _, info := range snap.Streams {
		snap.ActiveStreams++
		snap.TotalFrames += info.FrameCount
		snap.AggregateFPS += info.FPS
	}

	if p.proc != nil {
		if cpu, err := p.proc.CPUPercent(); err == nil {
			snap.Process.CPUPercent = cpu
		}
		if memInfo, err := p.proc.MemoryInfo(); err == nil {
			snap.Process.MemoryRSSBytes = memInfo.RSS
		}
		if memP, err := p.proc.MemoryPercent(); err == nil {
			snap.Process.MemoryPercent = float64(memP)
		}
	}
	return snap
}
