package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/schema"
	"github.com/danmuck/cellsync/internal/protocol/session"
	"github.com/danmuck/cellsync/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.SessionDeadAfter = 0
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
	return cfg
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	h := NewHost(HostConfig{ListenAddr: "127.0.0.1:0", Session: testSession()}, opts...)
	if err := h.Initialize(); err != nil {
		t.Fatalf("host initialize: %v", err)
	}
	t.Cleanup(h.Shutdown)
	return h
}

func connectPeer(t *testing.T, h *Host, opts ...Option) *Peer {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	p := NewPeer(PeerConfig{Address: h.Addr().String(), Session: testSession()}, opts...)
	if err := p.Initialize(); err != nil {
		t.Fatalf("peer initialize: %v", err)
	}
	t.Cleanup(p.Shutdown)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("peer connect: %v", err)
	}
	waitFor(t, 2*time.Second, "host connected", h.IsConnected)
	return p
}

func receive(t *testing.T, tr Transport) protocol.Message {
	t.Helper()
	var msg protocol.Message
	waitFor(t, 2*time.Second, "message", func() bool {
		var ok bool
		msg, ok = tr.TryReceive()
		return ok
	})
	return msg
}

func TestLoopbackConnectWithinDeadline(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	if h.State() != StateListening {
		t.Fatalf("host state got=%s", h.State())
	}
	p := connectPeer(t, h)
	if !p.IsConnected() || p.State() != StateConnected {
		t.Fatalf("peer state got=%s", p.State())
	}
	if p.Stats().SessionID == "" {
		t.Fatalf("connected peer should report a session id")
	}
	if h.Role() != RoleHost || p.Role() != RolePeer {
		t.Fatalf("unexpected roles host=%s peer=%s", h.Role(), p.Role())
	}
	if err := h.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestPeerInputAttackReachesHost(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)

	if err := p.Send(protocol.NewInputMessage(protocol.InputCommand{Attack: true})); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := receive(t, h)
	cmd, err := protocol.DecodeInputMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd != (protocol.InputCommand{Attack: true}) {
		t.Fatalf("host observed %+v", cmd)
	}
}

func TestConcurrentSendsKeepFramesWhole(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)

	const senders, perSender = 8, 200
	marker := protocol.InputCommand{MoveLeft: true, Shield: true}
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				snap := protocol.StateSnapshot{
					PosX:     float32(g),
					PosY:     float32(i),
					Health:   float32(g*1000 + i),
					Sequence: uint32(g*perSender + i + 1),
				}
				if err := p.Send(protocol.NewStateMessage(snap)); err != nil {
					errs <- err
					return
				}
				if err := p.Send(protocol.NewInputMessage(marker)); err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("send: %v", err)
	}

	total := uint64(2 * senders * perSender)
	waitFor(t, 5*time.Second, "all frames received", func() bool { return h.Stats().Received == total })
	seen := make(map[uint32]bool, senders*perSender)
	var inputs int
	for {
		msg, ok := h.TryReceive()
		if !ok {
			break
		}
		switch msg.Type {
		case schema.MsgPlayerInput:
			cmd, err := protocol.DecodeInputMessage(msg)
			if err != nil || cmd != marker {
				t.Fatalf("torn input frame: %+v err=%v", cmd, err)
			}
			inputs++
		case schema.MsgPlayerState:
			st, err := protocol.DecodeStateMessage(msg)
			if err != nil {
				t.Fatalf("decode state: %v", err)
			}
			g, i := int(st.PosX), int(st.PosY)
			if st.Health != float32(g*1000+i) || st.Sequence != uint32(g*perSender+i+1) {
				t.Fatalf("torn state frame: %+v", st)
			}
			if seen[st.Sequence] {
				t.Fatalf("duplicate state frame: %+v", st)
			}
			seen[st.Sequence] = true
		default:
			t.Fatalf("unexpected frame type %s", msg.Type)
		}
	}
	if inputs != senders*perSender || len(seen) != senders*perSender {
		t.Fatalf("inputs=%d states=%d want %d each", inputs, len(seen), senders*perSender)
	}
	if !h.IsConnected() {
		t.Fatalf("host dropped the session: %s", h.State())
	}
}

func TestStateSnapshotReachesPeer(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)

	want := protocol.StateSnapshot{PosX: 120.5, PosY: 80.25, Health: 42, Shielding: true, Sequence: 7}
	if err := h.Send(protocol.NewStateMessage(want)); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := protocol.DecodeStateMessage(receive(t, p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("peer observed %+v want %+v", got, want)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	testlog.Start(t)
	p := NewPeer(PeerConfig{Address: "127.0.0.1:1", Session: testSession()}, WithLogger(zerolog.Nop()))
	if err := p.Send(protocol.NewControlMessage(schema.MsgPing)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("idle send expected ErrNotConnected, got %v", err)
	}

	h := startHost(t)
	peer := connectPeer(t, h)
	peer.Shutdown()
	start := time.Now()
	if err := peer.Send(protocol.NewControlMessage(schema.MsgPing)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("disconnected send expected ErrNotConnected, got %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("send on disconnected transport blocked")
	}
	if err := h.Send(protocol.Message{Type: schema.MsgPlayerInput}); err == nil {
		t.Fatalf("expected length error for empty input payload")
	}
}

func TestSecondConnectionRejected(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)
	first := h.RemoteAddr()

	extra, err := net.DialTimeout("tcp", h.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial extra: %v", err)
	}
	defer extra.Close()
	_ = extra.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := extra.Read(buf); err == nil {
		t.Fatalf("extra connection should be closed by host")
	}

	if h.RemoteAddr() != first || !h.IsConnected() {
		t.Fatalf("active session disturbed: remote=%s state=%s", h.RemoteAddr(), h.State())
	}
	if err := p.Send(protocol.NewControlMessage(schema.MsgPing)); err != nil {
		t.Fatalf("send on first session: %v", err)
	}
	if msg := receive(t, h); msg.Type != schema.MsgPing {
		t.Fatalf("unexpected message %s", msg.Type)
	}
}

func TestRemoteDisconnectKeepsQueueUntilShutdown(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)

	for i := 0; i < 3; i++ {
		if err := p.Send(protocol.NewControlMessage(schema.MsgPing)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	waitFor(t, 2*time.Second, "three received", func() bool { return h.Stats().Received == 3 })
	p.Shutdown()
	waitFor(t, 2*time.Second, "host disconnected", func() bool { return h.State() == StateDisconnected })

	if err := h.Send(protocol.NewControlMessage(schema.MsgPong)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after remote close, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := h.TryReceive(); !ok {
			t.Fatalf("queued message %d lost after remote disconnect", i)
		}
	}
	if _, ok := h.TryReceive(); ok {
		t.Fatalf("unexpected extra message")
	}
}

func TestShutdownIdempotentAndDiscardsQueue(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)
	if err := p.Send(protocol.NewControlMessage(schema.MsgPing)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 2*time.Second, "received", func() bool { return h.Stats().Queued == 1 })

	h.Shutdown()
	h.Shutdown()
	if h.State() != StateDisconnected {
		t.Fatalf("state got=%s", h.State())
	}
	if _, ok := h.TryReceive(); ok {
		t.Fatalf("shutdown should discard queued messages")
	}
	waitFor(t, 2*time.Second, "peer disconnected", func() bool { return p.State() == StateDisconnected })
}

func TestOnMessageCallbackRunsAfterEnqueue(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	var seen atomic.Int32
	var queuedFirst atomic.Bool
	h.SetOnMessage(func(msg protocol.Message) {
		queuedFirst.Store(h.Stats().Queued > 0)
		seen.Add(1)
	})
	p := connectPeer(t, h)
	if err := p.Send(protocol.NewControlMessage(schema.MsgConnectRequest)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 2*time.Second, "callback", func() bool { return seen.Load() == 1 })
	if !queuedFirst.Load() {
		t.Fatalf("callback ran before the message was queued")
	}
}

func TestUnknownTypeDisconnects(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	conn, err := net.DialTimeout("tcp", h.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, 2*time.Second, "host connected", h.IsConnected)
	if _, err := conn.Write([]byte{byte(schema.MsgGameState)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, 2*time.Second, "host disconnected", func() bool { return h.State() == StateDisconnected })
}

func TestIdleDeadlineDisconnects(t *testing.T) {
	testlog.Start(t)
	cfg := testSession()
	cfg.SessionDeadAfter = 50 * time.Millisecond
	h := NewHost(HostConfig{ListenAddr: "127.0.0.1:0", Session: cfg}, WithLogger(zerolog.Nop()))
	if err := h.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer h.Shutdown()
	conn, err := net.DialTimeout("tcp", h.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, 2*time.Second, "idle disconnect", func() bool { return h.State() == StateDisconnected })
}

func TestInitializeBindFailureLeavesIdle(t *testing.T) {
	testlog.Start(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	h := NewHost(HostConfig{ListenAddr: busy.Addr().String()}, WithLogger(zerolog.Nop()))
	if err := h.Initialize(); !errors.Is(err, ErrResourceAcquisition) {
		t.Fatalf("expected ErrResourceAcquisition, got %v", err)
	}
	if h.State() != StateIdle || h.Addr() != nil {
		t.Fatalf("partial state left: state=%s addr=%v", h.State(), h.Addr())
	}

	p := NewPeer(PeerConfig{Address: ""}, WithLogger(zerolog.Nop()))
	if err := p.Initialize(); !errors.Is(err, ErrResourceAcquisition) || !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected address error, got %v", err)
	}
	if err := p.Connect(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestPeerConnectFailureReturnsIdleAndRetries(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	p := NewPeer(PeerConfig{Address: addr, Session: testSession()}, WithLogger(zerolog.Nop()))
	if err := p.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer p.Shutdown()
	if err := p.Connect(context.Background()); !errors.Is(err, ErrResourceAcquisition) {
		t.Fatalf("expected dial failure, got %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("failed connect should return to idle, got %s", p.State())
	}
	if err := ConnectWithBackoff(context.Background(), p, 2); err == nil {
		t.Fatalf("expected failure after two attempts")
	}

	h := NewHost(HostConfig{ListenAddr: addr, Session: testSession()}, WithLogger(zerolog.Nop()))
	if err := h.Initialize(); err != nil {
		t.Skipf("port %s reused before test could rebind: %v", addr, err)
	}
	defer h.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ConnectWithBackoff(ctx, p, 0); err != nil {
		t.Fatalf("connect with backoff: %v", err)
	}
	waitFor(t, 2*time.Second, "host connected", h.IsConnected)
}

func TestThrottlePacesSends(t *testing.T) {
	testlog.Start(t)
	h := startHost(t)
	p := connectPeer(t, h)

	p.Throttle(30 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := p.Send(protocol.NewControlMessage(schema.MsgPing)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("sends not paced, elapsed=%v", elapsed)
	}
	p.Throttle(0)
	if p.SendDelay() != 0 {
		t.Fatalf("throttle not lifted")
	}
}

func TestMonitorThrottlesFloodingPeer(t *testing.T) {
	testlog.Start(t)
	mon := monitor.New(monitor.Thresholds{
		MaxMessagesPerSecond: 10,
		MaxAbnormalStreak:    2,
		ThrottleDelay:        20 * time.Millisecond,
		Window:               20 * time.Millisecond,
	}, monitor.WithLogger(zerolog.Nop()))
	h := startHost(t, WithMonitor(mon))
	p := connectPeer(t, h)

	for i := 0; i < 200 && h.SendDelay() == 0; i++ {
		if err := p.Send(protocol.NewInputMessage(protocol.InputCommand{MoveUp: true})); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	waitFor(t, 2*time.Second, "host throttled", func() bool { return h.SendDelay() == 20*time.Millisecond })
	if st, ok := mon.Peer(h.RemoteAddr()); !ok || !st.Throttled {
		t.Fatalf("monitor record not throttled: %+v ok=%v", st, ok)
	}

	p.Shutdown()
	waitFor(t, 2*time.Second, "monitor forget", func() bool {
		_, ok := mon.Peer(h.RemoteAddr())
		return !ok
	})
}
