package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cellsync/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingThrottler struct {
	calls []time.Duration
}

func (r *recordingThrottler) Throttle(d time.Duration) {
	r.calls = append(r.calls, d)
}

func newTestMonitor(clock *fakeClock, opts ...Option) *Monitor {
	opts = append([]Option{WithClock(clock.Now), WithLogger(zerolog.Nop())}, opts...)
	return New(DefaultThresholds(), opts...)
}

// burst sends n messages 5ms apart from the start of a window, then idles until
// that window has run its full second.
func burst(m *Monitor, clock *fakeClock, peer string, thr Throttler, n int) []Verdict {
	start := clock.Now()
	out := make([]Verdict, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.Observe(peer, 1, thr))
		clock.Advance(5 * time.Millisecond)
	}
	clock.Advance(time.Second - clock.Now().Sub(start))
	return out
}

// escalation returns the first non-empty action among vs.
func escalation(vs []Verdict) Action {
	for _, v := range vs {
		if v.Action != ActionNone {
			return v.Action
		}
	}
	return ActionNone
}

// throttlePeer floods eight consecutive windows: warn on the fifth, throttle on the eighth.
func throttlePeer(t *testing.T, m *Monitor, clock *fakeClock, peer string, thr Throttler) {
	t.Helper()
	for w := 0; w < 8; w++ {
		burst(m, clock, peer, thr, 150)
	}
	if st, _ := m.Peer(peer); !st.Throttled {
		t.Fatalf("expected throttled peer after 8 flooded windows: %+v", st)
	}
}

func TestRateStrikesOncePerWindow(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	m := newTestMonitor(clock)
	vs := burst(m, clock, "peer-a", nil, 150)
	for i, v := range vs {
		want := i == 100
		if v.RateAnomaly != want || v.SizeAnomaly {
			t.Fatalf("message %d got=%+v want rate anomaly=%v", i+1, v, want)
		}
		if i >= 100 && v.Streak != 1 {
			t.Fatalf("message %d streak got=%d want=1", i+1, v.Streak)
		}
	}
	st, _ := m.Peer("peer-a")
	if !st.RateExceeded || st.AbnormalStreak != 1 || st.Anomalies != 1 {
		t.Fatalf("unexpected record: %+v", st)
	}
}

func TestFloodWarnsThenThrottles(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	thr := &recordingThrottler{}
	var events []Event
	m := newTestMonitor(clock, WithEventSink(func(ev Event) { events = append(events, ev) }))

	for w := 1; w <= 4; w++ {
		if a := escalation(burst(m, clock, "peer-a", thr, 150)); a != ActionNone {
			t.Fatalf("window %d escalated early: %s", w, a)
		}
		if st, _ := m.Peer("peer-a"); st.AbnormalStreak != w {
			t.Fatalf("window %d streak got=%d", w, st.AbnormalStreak)
		}
	}
	if a := escalation(burst(m, clock, "peer-a", thr, 150)); a != ActionWarn {
		t.Fatalf("fifth abnormal window got=%s want warn", a)
	}
	if st, _ := m.Peer("peer-a"); !st.Warned || st.Throttled || st.AbnormalStreak != 2 {
		t.Fatalf("unexpected record after warn: %+v", st)
	}
	if len(thr.calls) != 0 {
		t.Fatalf("warn must not throttle: %v", thr.calls)
	}

	for w := 6; w <= 7; w++ {
		if a := escalation(burst(m, clock, "peer-a", thr, 150)); a != ActionNone {
			t.Fatalf("window %d escalated during grace: %s", w, a)
		}
	}
	if a := escalation(burst(m, clock, "peer-a", thr, 150)); a != ActionThrottle {
		t.Fatalf("eighth abnormal window got=%s want throttle", a)
	}
	if len(thr.calls) != 1 || thr.calls[0] != 50*time.Millisecond {
		t.Fatalf("unexpected throttle calls: %v", thr.calls)
	}

	for w := 9; w <= 14; w++ {
		if a := escalation(burst(m, clock, "peer-a", thr, 150)); a != ActionNone {
			t.Fatalf("window %d re-escalated a throttled peer: %s", w, a)
		}
	}
	if len(thr.calls) != 1 {
		t.Fatalf("throttled peer throttled again: %v", thr.calls)
	}
	if st, _ := m.Peer("peer-a"); !st.Throttled || !st.Warned {
		t.Fatalf("unexpected record after sustained flood: %+v", st)
	}

	var warns, throttles int
	for _, ev := range events {
		switch ev.Kind {
		case EventWarn:
			warns++
		case EventThrottle:
			throttles++
		}
	}
	if warns != 1 || throttles != 1 {
		t.Fatalf("escalation events warn=%d throttle=%d", warns, throttles)
	}
}

func TestSingleBurstDecaysWithoutEscalation(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	thr := &recordingThrottler{}
	m := newTestMonitor(clock)

	burst(m, clock, "peer-a", thr, 150)
	for i := 0; i < 90; i++ {
		if v := m.Observe("peer-a", 1, thr); v.Action != ActionNone || !v.Normal() {
			t.Fatalf("message %d after burst got=%+v", i, v)
		}
		clock.Advance(time.Second / 30)
	}
	st, _ := m.Peer("peer-a")
	if st.AbnormalStreak != 0 || st.Warned || st.Throttled || st.RateExceeded {
		t.Fatalf("burst did not decay: %+v", st)
	}
	if len(thr.calls) != 0 {
		t.Fatalf("single burst throttled the peer: %v", thr.calls)
	}
}

func TestNormalTrafficDecaysAndLiftsThrottle(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	thr := &recordingThrottler{}
	m := newTestMonitor(clock)
	throttlePeer(t, m, clock, "peer-a", thr)

	clock.Advance(time.Second)
	if v := m.Observe("peer-a", 1, thr); !v.Normal() || v.Action != ActionNone || v.Streak != 1 {
		t.Fatalf("quiet window should decay once: %+v", v)
	}
	clock.Advance(time.Second)
	v := m.Observe("peer-a", 1, thr)
	if v.Action != ActionClear || v.Streak != 0 {
		t.Fatalf("expected clear at streak 0, got %+v", v)
	}
	if last := thr.calls[len(thr.calls)-1]; last != 0 {
		t.Fatalf("throttle not lifted, last call=%v", last)
	}
	st, _ := m.Peer("peer-a")
	if st.Warned || st.Throttled || st.RateExceeded {
		t.Fatalf("record not cleared: %+v", st)
	}
}

func TestSizeAnomalyAndEscalationMustBeConsecutive(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	thr := &recordingThrottler{}
	m := newTestMonitor(clock)

	for i := 0; i < 4; i++ {
		if v := m.Observe("peer-a", 2048, thr); !v.SizeAnomaly || v.Streak != i+1 {
			t.Fatalf("oversized payload %d got=%+v", i, v)
		}
	}
	if v := m.Observe("peer-a", 2048, thr); v.Action != ActionWarn || v.Streak != 2 {
		t.Fatalf("expected warn, got %+v", v)
	}
	if v := m.Observe("peer-a", 16, thr); v.Streak != 2 {
		t.Fatalf("normal message inside a window must not decay: %+v", v)
	}
	clock.Advance(2 * time.Second)
	if v := m.Observe("peer-a", 16, thr); v.Action != ActionClear || v.Streak != 0 {
		t.Fatalf("expected warning to clear after two quiet windows, got %+v", v)
	}
	if len(thr.calls) != 0 {
		t.Fatalf("clearing an unthrottled peer must not call Throttle: %v", thr.calls)
	}

	for i := 0; i < 4; i++ {
		m.Observe("peer-a", 2048, thr)
	}
	if v := m.Observe("peer-a", 2048, thr); v.Action != ActionWarn {
		t.Fatalf("decayed peer should be warned again, not throttled: %+v", v)
	}
}

func TestSetThresholdsAppliesToNextObserve(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	m := newTestMonitor(clock)

	if v := m.Observe("peer-a", 32, nil); !v.Normal() {
		t.Fatalf("32 bytes flagged under defaults: %+v", v)
	}
	if err := m.SetThresholds(Thresholds{MaxPayloadBytes: 16}); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}
	if got := m.Thresholds(); got.MaxMessagesPerSecond != 100 || got.MaxPayloadBytes != 16 {
		t.Fatalf("unexpected thresholds: %+v", got)
	}
	if v := m.Observe("peer-a", 32, nil); !v.SizeAnomaly {
		t.Fatalf("new limit not applied: %+v", v)
	}
	if err := m.SetThresholds(Thresholds{MaxAbnormalStreak: -1}); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
}

func TestForgetAndResetPeer(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	thr := &recordingThrottler{}
	var kinds []EventKind
	m := newTestMonitor(clock, WithEventSink(func(ev Event) { kinds = append(kinds, ev.Kind) }))

	throttlePeer(t, m, clock, "peer-a", thr)
	m.Reset("peer-a")
	st, ok := m.Peer("peer-a")
	if !ok || st.Warned || st.Throttled || st.AbnormalStreak != 0 {
		t.Fatalf("reset left state: %+v", st)
	}
	if last := thr.calls[len(thr.calls)-1]; last != 0 {
		t.Fatalf("reset should lift throttle, last=%v", last)
	}

	m.Observe("peer-b", 1, nil)
	m.Forget("peer-a")
	snap := m.Snapshot()
	if _, ok := snap["peer-a"]; ok {
		t.Fatalf("forgotten peer still published")
	}
	if _, ok := snap["peer-b"]; !ok {
		t.Fatalf("other peer dropped: %+v", snap)
	}
	if kinds[len(kinds)-1] != EventForget {
		t.Fatalf("expected forget event last, got %v", kinds)
	}
	m.Forget("missing")
}

func TestSnapshotIsACopy(t *testing.T) {
	testlog.Start(t)
	m := newTestMonitor(newFakeClock())
	m.Observe("peer-a", 1, nil)
	snap := m.Snapshot()
	delete(snap, "peer-a")
	if _, ok := m.Peer("peer-a"); !ok {
		t.Fatalf("mutating a snapshot changed the monitor")
	}
}
