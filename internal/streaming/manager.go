package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
)

// Event types produced by a workflow run.
const (
	TypeStatus        = "status"
	TypeProgress      = "progress"
	TypeAgentComplete = "agent_complete"
	TypeCompleted     = "completed"
	TypeError         = "error"
)

// Event is one run event. Data holds the type-specific fields.
type Event struct {
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Terminal reports whether no event follows e in its run.
func (e Event) Terminal() bool {
	return e.Type == TypeCompleted || e.Type == TypeError
}

// Wire returns the client payload: the type merged with the data fields,
// e.g. {"type":"progress","progress":45,"step":"Writer","agent":"writer"}.
func (e Event) Wire() []byte {
	out := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = e.Type
	b, _ := json.Marshal(out)
	return b
}

// Marshal returns the full JSON form used by the Redis mirror and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const (
	defaultCapacity  = 256
	defaultRetention = 5 * time.Minute
	mirrorTTL        = 24 * time.Hour
)

// Manager provides in-memory pub/sub for run events with a per-run ring
// buffer for Last-Event-ID replay. An optional Redis Streams mirror lets
// another process replay a run it did not execute.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	// retention is how long a finished run's history stays replayable.
	retention time.Duration

	mirror *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

type Option func(*Manager)

// WithRetention keeps a run's history for d after its terminal event.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithRedisMirror appends every event to the stream cgs:run:{id}:events.
func WithRedisMirror(w *circuitbreaker.RedisWrapper) Option {
	return func(m *Manager) { m.mirror = w }
}

func NewManager(capacity int, logger *zap.Logger, opts ...Option) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		retention:   defaultRetention,
		logger:      logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func streamKey(runID string) string { return "cgs:run:" + runID + ":events" }

// Subscribe adds a subscriber channel for runID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	ometrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		ometrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// SubscriberCount returns the number of live subscribers of runID.
func (m *Manager) SubscriberCount(runID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[runID])
}

// Publish assigns the next sequence number of runID to evt, records it and
// sends it to all subscribers without blocking. Slow subscribers miss the
// event and can catch up through ReplaySince.
func (m *Manager) Publish(ctx context.Context, runID string, evt Event) Event {
	evt.RunID = runID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	// sends never block, so they stay under the lock that Unsubscribe needs to close
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			ometrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	if evt.Terminal() {
		time.AfterFunc(m.retention, func() { m.forgetRing(runID, rg) })
	}
	if m.mirror != nil {
		m.mirrorEvent(ctx, evt)
	}
	return evt
}

func (m *Manager) mirrorEvent(ctx context.Context, evt Event) {
	key := streamKey(evt.RunID)
	err := m.mirror.Do(ctx, func(c redis.Cmdable) error {
		if err := c.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: int64(m.capacity),
			Approx: true,
			Values: map[string]interface{}{
				"seq":   strconv.FormatUint(evt.Seq, 10),
				"event": evt.Marshal(),
			},
		}).Err(); err != nil {
			return err
		}
		return c.Expire(ctx, key, mirrorTTL).Err()
	})
	if err != nil {
		m.logger.Warn("Failed to mirror run event",
			zap.String("run_id", evt.RunID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	}
}

// ReplaySince returns events with Seq > since, from memory when this
// process holds the run's history and from the Redis mirror otherwise.
func (m *Manager) ReplaySince(ctx context.Context, runID string, since uint64) ([]Event, error) {
	m.mu.RLock()
	rg := m.history[runID]
	var local []Event
	if rg != nil {
		local = rg.since(since)
	}
	m.mu.RUnlock()
	if rg != nil || m.mirror == nil {
		return local, nil
	}
	return m.replayMirror(ctx, runID, since)
}

func (m *Manager) replayMirror(ctx context.Context, runID string, since uint64) ([]Event, error) {
	var msgs []redis.XMessage
	err := m.mirror.Do(ctx, func(c redis.Cmdable) error {
		var err error
		msgs, err = c.XRange(ctx, streamKey(runID), "-", "+").Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read event mirror: %w", err)
	}
	var out []Event
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			m.logger.Warn("Skipping malformed mirrored event", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Forget drops the in-memory history of a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// forgetRing drops runID's history only if it is still rg.
func (m *Manager) forgetRing(runID string, rg *ring) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history[runID] == rg {
		delete(m.history, runID)
	}
}

// Tracked reports how many runs have in-memory history.
func (m *Manager) Tracked() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
