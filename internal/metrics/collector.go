// Package metrics aggregates pipeline statistics from the event bus for the
// /api/metrics endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/chamikara/helachat/internal/bus"
)

// StageStats accumulates per-stage timing.
type StageStats struct {
	Count   int64 `json:"count"`
	TotalMs int64 `json:"total_ms"`
	MaxMs   int64 `json:"max_ms"`
}

// Snapshot is a point-in-time view of the collected metrics.
type Snapshot struct {
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	TurnsStarted   int64                  `json:"turns_started"`
	TurnsCompleted int64                  `json:"turns_completed"`
	TurnsFailed    int64                  `json:"turns_failed"`
	RepliesSent    int64                  `json:"replies_sent"`
	AvgConfidence  float64                `json:"avg_confidence"`
	AvgTurnMs      float64                `json:"avg_turn_ms"`
	Languages      map[string]int64       `json:"languages"`
	Stages         map[string]*StageStats `json:"stages"`
}

// Collector subscribes to the event bus and aggregates counters.
type Collector struct {
	bus  *bus.Bus
	subs []bus.SubscriptionID

	mu              sync.RWMutex
	started         time.Time
	turnsStarted    int64
	turnsCompleted  int64
	turnsFailed     int64
	repliesSent     int64
	confidenceSum   int64
	confidenceCount int64
	turnMsSum       int64
	languages       map[string]int64
	stages          map[string]*StageStats
	stopped         bool
}

// NewCollector creates a collector attached to the given bus.
func NewCollector(b *bus.Bus) *Collector {
	return &Collector{
		bus:       b,
		started:   time.Now(),
		languages: make(map[string]int64),
		stages:    make(map[string]*StageStats),
	}
}

// Start subscribes to the pipeline event types.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	for _, t := range []bus.EventType{
		bus.EventTurnStarted,
		bus.EventTurnCompleted,
		bus.EventTurnFailed,
		bus.EventStageCompleted,
		bus.EventReplySent,
	} {
		c.subs = append(c.subs, c.bus.Subscribe(t, c.handleEvent))
	}
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

func (c *Collector) handleEvent(event bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case bus.EventTurnStarted:
		c.turnsStarted++

	case bus.EventTurnCompleted:
		c.turnsCompleted++
		c.confidenceSum += int64(event.Confidence)
		c.confidenceCount++
		c.turnMsSum += event.DurationMs
		if event.Language != "" {
			c.languages[event.Language]++
		}

	case bus.EventTurnFailed:
		c.turnsFailed++

	case bus.EventReplySent:
		c.repliesSent++

	case bus.EventStageCompleted:
		stats, ok := c.stages[event.Stage]
		if !ok {
			stats = &StageStats{}
			c.stages[event.Stage] = stats
		}
		stats.Count++
		stats.TotalMs += event.DurationMs
		if event.DurationMs > stats.MaxMs {
			stats.MaxMs = event.DurationMs
		}
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds:  int64(time.Since(c.started).Seconds()),
		TurnsStarted:   c.turnsStarted,
		TurnsCompleted: c.turnsCompleted,
		TurnsFailed:    c.turnsFailed,
		RepliesSent:    c.repliesSent,
		Languages:      make(map[string]int64, len(c.languages)),
		Stages:         make(map[string]*StageStats, len(c.stages)),
	}

	if c.confidenceCount > 0 {
		snap.AvgConfidence = float64(c.confidenceSum) / float64(c.confidenceCount)
	}
	if c.turnsCompleted > 0 {
		snap.AvgTurnMs = float64(c.turnMsSum) / float64(c.turnsCompleted)
	}

	for k, v := range c.languages {
		snap.Languages[k] = v
	}
	for k, v := range c.stages {
		copied := *v
		snap.Stages[k] = &copied
	}

	return snap
}
