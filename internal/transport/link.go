package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/frame"
	"github.com/danmuck/cellsync/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// link is the connection state shared by Host and Peer.
//
// Lock order: sendMu before connMu. The inbox has its own lock.
type link struct {
	role    Role
	cfg     session.Config
	limits  frame.Limits
	logger  zerolog.Logger
	metrics *observability.Metrics
	monitor *monitor.Monitor

	state     atomic.Int32
	sendDelay atomic.Int64
	onMessage atomic.Pointer[func(protocol.Message)]

	connMu sync.Mutex
	conn   net.Conn
	ln     net.Listener
	remote string
	// sessionID identifies the attached connection in logs and diagnostics.
	sessionID uuid.UUID

	sendMu   sync.Mutex
	lastSend time.Time

	inbox      *session.Inbox
	sent       atomic.Uint64
	received   atomic.Uint64
	sendErrors atomic.Uint64

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (l *link) init(role Role, cfg session.Config, opts []Option) {
	l.role = role
	l.cfg = cfg.WithDefaults()
	l.limits = frame.DefaultLimits()
	l.logger = log.Logger
	l.inbox = session.NewInbox()
	l.closing = make(chan struct{})
	for _, opt := range opts {
		opt(l)
	}
	l.logger = observability.Component(l.logger, "transport").With().Str("role", role.String()).Logger()
}

func (l *link) Role() Role {
	return l.role
}

func (l *link) State() State {
	return State(l.state.Load())
}

func (l *link) IsConnected() bool {
	return l.State() == StateConnected
}

// RemoteAddr is the address of the current or last connected counterpart.
func (l *link) RemoteAddr() string {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.remote
}

// SetOnMessage installs a callback run on the receive goroutine after each
// message is queued. It must return quickly and must not call Shutdown.
func (l *link) SetOnMessage(fn func(protocol.Message)) {
	if fn == nil {
		l.onMessage.Store(nil)
		return
	}
	l.onMessage.Store(&fn)
}

// TryReceive pops the oldest queued message without blocking.
func (l *link) TryReceive() (protocol.Message, bool) {
	return l.inbox.Pop()
}

// Throttle sets the minimum spacing between outbound frames. Zero lifts it.
func (l *link) Throttle(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	prev := time.Duration(l.sendDelay.Swap(int64(delay)))
	if prev != delay {
		l.logger.Warn().Dur("delay", delay).Dur("previous", prev).Msg("transport.Throttle")
	}
}

func (l *link) SendDelay() time.Duration {
	return time.Duration(l.sendDelay.Load())
}

// Send writes one frame. It fails fast with ErrNotConnected outside the Connected state.
func (l *link) Send(msg protocol.Message) error {
	if l.State() != StateConnected {
		return ErrNotConnected
	}
	buf, err := frame.Encode(msg, l.limits)
	if err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil || l.State() != StateConnected {
		return ErrNotConnected
	}
	if err := l.pace(); err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if _, err := conn.Write(buf); err != nil {
		l.sendErrors.Add(1)
		l.metrics.RecordSendError(l.role.String(), "write")
		l.disconnect("write_failure", err)
		return fmt.Errorf("transport: send %s: %w", msg.Type, err)
	}
	l.lastSend = time.Now()
	l.sent.Add(1)
	l.metrics.RecordMessage("out", msg.Type.String(), len(buf))
	return nil
}

// pace waits out the throttle delay since the previous frame. Caller holds sendMu.
func (l *link) pace() error {
	delay := l.SendDelay()
	if delay <= 0 || l.lastSend.IsZero() {
		return nil
	}
	wait := delay - time.Since(l.lastSend)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-l.closing:
		return ErrNotConnected
	}
}

// attach promotes conn to the live session if the transport is still in from.
func (l *link) attach(conn net.Conn, from State) bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.State() != from {
		return false
	}
	l.conn = conn
	l.remote = conn.RemoteAddr().String()
	l.sessionID = uuid.New()
	l.state.Store(int32(StateConnected))
	l.wg.Add(1)
	go l.receiveLoop(conn, l.remote)
	l.metrics.SetConnected(l.role.String(), true)
	l.logger.Info().Str("remote", l.remote).Str("session", l.sessionID.String()).Msg("transport.attach connected")
	return true
}

func (l *link) receiveLoop(conn net.Conn, remote string) {
	defer l.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		if dead := l.cfg.SessionDeadAfter; dead > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(dead))
		}
		msg, err := frame.ReadFrame(reader, l.limits)
		if err != nil {
			l.disconnect(readFailureReason(err), err)
			return
		}
		l.received.Add(1)
		l.metrics.RecordMessage("in", msg.Type.String(), frame.TypeLen+len(msg.Payload))
		if l.monitor != nil {
			l.monitor.Observe(remote, len(msg.Payload), l)
		}
		l.inbox.Push(msg)
		if fn := l.onMessage.Load(); fn != nil {
			(*fn)(msg)
		}
	}
}

func readFailureReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return "peer_closed"
	case errors.Is(err, net.ErrClosed):
		return "closed"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "idle_timeout"
	case errors.Is(err, frame.ErrUnknownType), errors.Is(err, frame.ErrShortFrame), errors.Is(err, frame.ErrPayloadTooLarge):
		return "protocol"
	default:
		return "io_failure"
	}
}

// disconnect moves to the terminal state once. Queued messages stay drainable.
func (l *link) disconnect(reason string, cause error) {
	l.connMu.Lock()
	if l.State() == StateDisconnected {
		l.connMu.Unlock()
		return
	}
	l.state.Store(int32(StateDisconnected))
	conn, ln, remote, id := l.conn, l.ln, l.remote, l.sessionID
	l.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if l.monitor != nil && remote != "" {
		l.monitor.Forget(remote)
	}
	l.metrics.SetConnected(l.role.String(), false)
	l.metrics.RecordDisconnect(l.role.String(), reason)

	event := l.logger.Warn()
	if reason == "peer_closed" {
		event = l.logger.Info()
		cause = ErrPeerClosed
	}
	event.Str("remote", remote).Str("session", id.String()).Str("reason", reason).Err(cause).Msg("transport.disconnect")
}

// Shutdown closes everything and waits for background goroutines. Idempotent.
func (l *link) Shutdown() {
	first := false
	l.closeOnce.Do(func() {
		first = true
		close(l.closing)
	})

	l.connMu.Lock()
	prev := l.State()
	l.state.Store(int32(StateDisconnected))
	conn, ln, remote := l.conn, l.ln, l.remote
	l.connMu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	l.wg.Wait()
	l.inbox.Reset()
	if l.monitor != nil && remote != "" {
		l.monitor.Forget(remote)
	}
	if first {
		l.metrics.SetConnected(l.role.String(), false)
		if prev == StateConnected {
			l.metrics.RecordDisconnect(l.role.String(), "shutdown")
		}
		l.logger.Info().Str("previous_state", prev.String()).Msg("transport.Shutdown")
	}
}

// SessionID identifies the current or last attached connection; empty before the first.
func (l *link) SessionID() string {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.sessionID == uuid.Nil {
		return ""
	}
	return l.sessionID.String()
}

func (l *link) Stats() Stats {
	return Stats{
		Role:       l.role.String(),
		State:      l.State().String(),
		RemoteAddr: l.RemoteAddr(),
		SessionID:  l.SessionID(),
		Sent:       l.sent.Load(),
		Received:   l.received.Load(),
		SendErrors: l.sendErrors.Load(),
		Queued:     l.inbox.Len(),
		SendDelay:  l.SendDelay().String(),
	}
}
