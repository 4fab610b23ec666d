package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cellsync/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Throttler is implemented by whatever can pace a peer's traffic.
// A zero delay lifts the throttle.
type Throttler interface {
	Throttle(delay time.Duration)
}

type Action uint8

const (
	ActionNone Action = iota
	ActionWarn
	ActionThrottle
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionThrottle:
		return "throttle"
	case ActionClear:
		return "clear"
	default:
		return "none"
	}
}

// Verdict is the outcome of observing one message.
type Verdict struct {
	RateAnomaly bool
	SizeAnomaly bool
	Action      Action
	Streak      int
}

// Normal reports whether the message raised no anomaly.
func (v Verdict) Normal() bool {
	return !v.RateAnomaly && !v.SizeAnomaly
}

// PeerStats is the per-peer detection record.
type PeerStats struct {
	Peer               string    `json:"peer"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	WindowStart        time.Time `json:"window_start"`
	MessagesThisWindow int       `json:"messages_this_window"`
	LastRate           float64   `json:"last_rate"`
	LastPayloadBytes   int       `json:"last_payload_bytes"`
	AbnormalStreak     int       `json:"abnormal_streak"`
	Warned             bool      `json:"warned"`
	RateExceeded       bool      `json:"rate_exceeded"`
	Throttled          bool      `json:"throttled"`
	Messages           uint64    `json:"messages"`
	Anomalies          uint64    `json:"anomalies"`
}

type EventKind string

const (
	EventAnomaly  EventKind = "anomaly"
	EventWarn     EventKind = "warn"
	EventThrottle EventKind = "throttle"
	EventClear    EventKind = "clear"
	EventForget   EventKind = "forget"
)

// Event is published to the sink for every anomaly and state change.
type Event struct {
	Kind         EventKind `json:"kind"`
	Peer         string    `json:"peer"`
	At           time.Time `json:"at"`
	Streak       int       `json:"streak"`
	Rate         float64   `json:"rate"`
	PayloadBytes int       `json:"payload_bytes"`
	RateAnomaly  bool      `json:"rate_anomaly,omitempty"`
	SizeAnomaly  bool      `json:"size_anomaly,omitempty"`
}

// EventSink receives events on the observing goroutine. It must not block.
type EventSink func(Event)

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithEventSink(sink EventSink) Option {
	return func(m *Monitor) {
		m.sink = sink
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

type peerState struct {
	stats     PeerStats
	throttler Throttler
	// struck is set once the current window has counted its rate strike.
	struck bool
}

// Monitor tracks one record per peer. Observe is called from receive goroutines;
// Snapshot reads a copy published after every change and never takes the lock.
type Monitor struct {
	thresholds atomic.Pointer[Thresholds]
	published  atomic.Pointer[map[string]PeerStats]

	mu    sync.Mutex
	peers map[string]*peerState

	now     func() time.Time
	logger  zerolog.Logger
	sink    EventSink
	metrics *observability.Metrics
}

func New(th Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		peers:  make(map[string]*peerState),
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = observability.Component(m.logger, "monitor")
	th = th.WithDefaults()
	m.thresholds.Store(&th)
	empty := map[string]PeerStats{}
	m.published.Store(&empty)
	return m
}

func (m *Monitor) Thresholds() Thresholds {
	return *m.thresholds.Load()
}

// SetThresholds swaps the limits. Safe from any goroutine; applies from the next Observe.
func (m *Monitor) SetThresholds(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	th = th.WithDefaults()
	m.thresholds.Store(&th)
	m.logger.Info().
		Float64("max_messages_per_second", th.MaxMessagesPerSecond).
		Int("max_payload_bytes", th.MaxPayloadBytes).
		Int("max_abnormal_streak", th.MaxAbnormalStreak).
		Dur("throttle_delay", th.ThrottleDelay).
		Msg("monitor.SetThresholds")
	return nil
}

// Observe records one inbound message of payloadBytes from peer and escalates
// through throttler when the peer keeps misbehaving.
//
// The rate signal strikes at most once per window, as soon as the window's
// count passes the limit. Every window that closes without a rate strike,
// including silent ones, decays the streak by one. Oversized payloads strike
// per message.
func (m *Monitor) Observe(peer string, payloadBytes int, throttler Throttler) Verdict {
	th := m.Thresholds()
	now := m.now()

	m.mu.Lock()
	st, ok := m.peers[peer]
	if !ok {
		st = &peerState{stats: PeerStats{Peer: peer, FirstSeen: now, WindowStart: now}}
		m.peers[peer] = st
		m.logger.Debug().Str("peer", peer).Msg("monitor.Observe new peer")
	}
	if throttler != nil {
		st.throttler = throttler
	}
	s := &st.stats
	var v Verdict
	var events []Event
	lift := false

	if elapsed := now.Sub(s.WindowStart); elapsed >= th.Window {
		s.LastRate = float64(s.MessagesThisWindow) / elapsed.Seconds()
		s.RateExceeded = st.struck
		normal := int(elapsed / th.Window)
		if st.struck {
			normal--
		}
		for ; normal > 0 && s.AbnormalStreak > 0; normal-- {
			if m.decayLocked(s, now, &v, &events) {
				lift = true
			}
		}
		s.MessagesThisWindow = 0
		s.WindowStart = now
		st.struck = false
	}

	s.Messages++
	s.MessagesThisWindow++
	s.LastPayloadBytes = payloadBytes
	s.LastSeen = now
	if !st.struck && float64(s.MessagesThisWindow) > th.MaxMessagesPerSecond*th.Window.Seconds() {
		st.struck = true
		s.RateExceeded = true
		v.RateAnomaly = true
	}
	v.SizeAnomaly = payloadBytes > th.MaxPayloadBytes
	if !v.Normal() {
		s.Anomalies++
		events = append(events, m.event(EventAnomaly, s, now, v))
	}
	if v.RateAnomaly {
		m.strikeLocked(s, th, now, &v, &events)
	}
	if v.SizeAnomaly {
		m.strikeLocked(s, th, now, &v, &events)
	}

	v.Streak = s.AbnormalStreak
	target := st.throttler
	snap := *s
	m.publishLocked()
	m.mu.Unlock()

	m.report(snap, v, th)
	switch {
	case v.Action == ActionThrottle && target != nil:
		target.Throttle(th.ThrottleDelay)
	case lift && target != nil:
		target.Throttle(0)
	}
	m.emit(events)
	return v
}

// strikeLocked raises the streak once and escalates at the ceiling: warn first,
// then throttle. A peer already throttled stays throttled without a new action.
func (m *Monitor) strikeLocked(s *PeerStats, th Thresholds, now time.Time, v *Verdict, events *[]Event) {
	s.AbnormalStreak++
	if s.AbnormalStreak < th.MaxAbnormalStreak {
		return
	}
	s.AbnormalStreak = th.MaxAbnormalStreak / 2
	switch {
	case !s.Warned:
		s.Warned = true
		v.Action = ActionWarn
		*events = append(*events, m.event(EventWarn, s, now, *v))
	case !s.Throttled:
		s.Throttled = true
		v.Action = ActionThrottle
		*events = append(*events, m.event(EventThrottle, s, now, *v))
	}
}

// decayLocked lowers the streak once. Reaching zero clears the warning and
// reports whether a throttle has to be lifted.
func (m *Monitor) decayLocked(s *PeerStats, now time.Time, v *Verdict, events *[]Event) bool {
	s.AbnormalStreak--
	if s.AbnormalStreak > 0 || !s.Warned {
		return false
	}
	lift := s.Throttled
	s.Warned = false
	s.Throttled = false
	v.Action = ActionClear
	*events = append(*events, m.event(EventClear, s, now, *v))
	return lift
}

// Reset clears the streak and warning state for peer and lifts any throttle.
func (m *Monitor) Reset(peer string) {
	m.mu.Lock()
	st, ok := m.peers[peer]
	if !ok {
		m.mu.Unlock()
		return
	}
	lift := st.stats.Throttled
	st.stats.AbnormalStreak = 0
	st.stats.Warned = false
	st.stats.Throttled = false
	target := st.throttler
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info().Str("peer", peer).Msg("monitor.Reset")
	if lift && target != nil {
		target.Throttle(0)
	}
}

// Forget discards the record for peer. Called when its session ends.
func (m *Monitor) Forget(peer string) {
	m.mu.Lock()
	st, ok := m.peers[peer]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peer)
	snap := st.stats
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Debug().Str("peer", peer).Uint64("messages", snap.Messages).Msg("monitor.Forget")
	m.emit([]Event{m.event(EventForget, &snap, m.now(), Verdict{})})
}

// Snapshot returns a copy of every peer record as last published.
func (m *Monitor) Snapshot() map[string]PeerStats {
	cur := *m.published.Load()
	out := make(map[string]PeerStats, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Peer returns the last published record for one peer.
func (m *Monitor) Peer(peer string) (PeerStats, bool) {
	st, ok := (*m.published.Load())[peer]
	return st, ok
}

func (m *Monitor) publishLocked() {
	next := make(map[string]PeerStats, len(m.peers))
	for k, st := range m.peers {
		next[k] = st.stats
	}
	m.published.Store(&next)
}

func (m *Monitor) event(kind EventKind, s *PeerStats, at time.Time, v Verdict) Event {
	return Event{
		Kind:         kind,
		Peer:         s.Peer,
		At:           at,
		Streak:       s.AbnormalStreak,
		Rate:         s.LastRate,
		PayloadBytes: s.LastPayloadBytes,
		RateAnomaly:  v.RateAnomaly,
		SizeAnomaly:  v.SizeAnomaly,
	}
}

func (m *Monitor) report(s PeerStats, v Verdict, th Thresholds) {
	if v.RateAnomaly {
		m.metrics.RecordAnomaly("rate")
	}
	if v.SizeAnomaly {
		m.metrics.RecordAnomaly("size")
	}
	if !v.Normal() {
		m.logger.Warn().
			Str("peer", s.Peer).
			Bool("rate", v.RateAnomaly).
			Bool("size", v.SizeAnomaly).
			Float64("last_rate", s.LastRate).
			Int("payload_bytes", s.LastPayloadBytes).
			Int("streak", v.Streak).
			Msg("monitor.Observe abnormal behavior")
	}
	switch v.Action {
	case ActionWarn:
		m.logger.Warn().
			Str("peer", s.Peer).
			Int("ceiling", th.MaxAbnormalStreak).
			Msg("monitor.Observe peer warned, behavior may affect the session")
	case ActionThrottle:
		m.logger.Warn().
			Str("peer", s.Peer).
			Dur("delay", th.ThrottleDelay).
			Msg("monitor.Observe peer keeps misbehaving, throttling")
	case ActionClear:
		m.logger.Info().Str("peer", s.Peer).Msg("monitor.Observe peer back to normal")
	}
	if v.Action != ActionNone {
		m.metrics.RecordEscalation(v.Action.String())
		m.metrics.SetThrottledPeers(m.throttledCount())
	}
}

func (m *Monitor) throttledCount() int {
	n := 0
	for _, st := range *m.published.Load() {
		if st.Throttled {
			n++
		}
	}
	return n
}

func (m *Monitor) emit(events []Event) {
	if m.sink == nil {
		return
	}
	for _, ev := range events {
		m.sink(ev)
	}
}
