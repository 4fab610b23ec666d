// Package netplay reconciles the local simulation with the remote participant.
//
// The Adapter is driven once per simulation tick from a single goroutine. It
// drains the transport queue without blocking, applies remote intents and
// snapshots to the remotely owned entity, and publishes the locally owned
// entity on a fixed cadence.
package netplay

import (
	"sync"
	"time"

	"github.com/danmuck/cellsync/internal/observability"
	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/schema"
	"github.com/danmuck/cellsync/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Entity is the controllable simulation object on either side of the session.
type Entity interface {
	MoveUp(step float32)
	MoveDown(step float32)
	MoveLeft(step float32)
	MoveRight(step float32)
	Attack()
	IsShielding() bool
	CanToggleShield() bool
	ToggleShield(cooldown float32)
	IncreaseAggression(amount float32)
	DecreaseAggression(amount float32)
	Snapshot() protocol.StateSnapshot
	ApplySnapshot(s protocol.StateSnapshot)
}

type Stats struct {
	InputsApplied    uint64        `json:"inputs_applied"`
	StatesApplied    uint64        `json:"states_applied"`
	StaleDropped     uint64        `json:"stale_dropped"`
	MalformedDropped uint64        `json:"malformed_dropped"`
	InputsSent       uint64        `json:"inputs_sent"`
	StatesSent       uint64        `json:"states_sent"`
	PingsSent        uint64        `json:"pings_sent"`
	PongsReceived    uint64        `json:"pongs_received"`
	SendFailures     int           `json:"send_failures"`
	LastRTT          time.Duration `json:"last_rtt"`
	LocalSequence    uint32        `json:"local_sequence"`
	RemoteSequence   uint32        `json:"remote_sequence"`
	Accepted         bool          `json:"accepted"`
	RemoteGone       bool          `json:"remote_gone"`
	Degraded         bool          `json:"degraded"`
	DegradedReason   string        `json:"degraded_reason,omitempty"`
}

type Option func(*Adapter)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

type Adapter struct {
	tr     transport.Transport
	local  Entity
	remote Entity
	cfg    Config

	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	sinceState     time.Duration
	sinceHeartbeat time.Duration
	everConnected  bool
	requested      bool
	pingSentAt     time.Time
	closeOnce      sync.Once

	mu    sync.Mutex
	stats Stats
}

func New(tr transport.Transport, local, remote Entity, cfg Config, opts ...Option) *Adapter {
	a := &Adapter{
		tr:     tr,
		local:  local,
		remote: remote,
		cfg:    cfg.WithDefaults(),
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = observability.Component(a.logger, "netplay").With().Str("role", tr.Role().String()).Logger()
	return a
}

// Tick drains every queued message, then emits the periodic state and heartbeat.
func (a *Adapter) Tick(dt time.Duration) {
	if a.tr.IsConnected() {
		a.everConnected = true
		if a.tr.Role() == transport.RolePeer && !a.requested {
			a.requested = true
			a.send(protocol.NewControlMessage(schema.MsgConnectRequest))
		}
	}

	for {
		msg, ok := a.tr.TryReceive()
		if !ok {
			break
		}
		a.dispatch(msg)
	}

	a.sinceState += dt
	if a.sinceState >= a.cfg.StateInterval {
		a.sinceState -= a.cfg.StateInterval
		if a.sinceState >= a.cfg.StateInterval {
			a.sinceState = 0
		}
		a.sendState()
	}

	if a.cfg.HeartbeatInterval > 0 {
		a.sinceHeartbeat += dt
		if a.sinceHeartbeat >= a.cfg.HeartbeatInterval {
			a.sinceHeartbeat = 0
			if a.send(protocol.NewControlMessage(schema.MsgPing)) {
				a.pingSentAt = a.now()
				a.update(func(s *Stats) { s.PingsSent++ })
			}
		}
	}
}

// SendInput publishes cmd only when at least one intent is set.
func (a *Adapter) SendInput(cmd protocol.InputCommand) bool {
	if !cmd.Any() {
		return false
	}
	if !a.send(protocol.NewInputMessage(cmd)) {
		return false
	}
	a.update(func(s *Stats) { s.InputsSent++ })
	return true
}

// Close notifies the remote side and shuts the transport down. Idempotent.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		if a.tr.IsConnected() {
			if err := a.tr.Send(protocol.NewControlMessage(schema.MsgDisconnect)); err != nil {
				a.logger.Debug().Err(err).Msg("netplay.Close disconnect notice not sent")
			}
		}
		a.tr.Shutdown()
		a.logger.Info().Msg("netplay.Close")
	})
}

func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Adapter) Degraded() bool {
	return a.Stats().Degraded
}

func (a *Adapter) dispatch(msg protocol.Message) {
	switch msg.Type {
	case schema.MsgPlayerInput:
		a.applyInput(msg)
	case schema.MsgPlayerState:
		a.applyState(msg)
	case schema.MsgConnectRequest:
		if a.tr.Role() == transport.RoleHost {
			a.logger.Info().Msg("netplay.dispatch connect request, accepting")
			a.send(protocol.NewControlMessage(schema.MsgConnectAccept))
			a.update(func(s *Stats) { s.Accepted = true })
		}
	case schema.MsgConnectAccept:
		if a.tr.Role() == transport.RolePeer {
			a.logger.Info().Msg("netplay.dispatch session accepted by host")
			a.update(func(s *Stats) { s.Accepted = true })
		}
	case schema.MsgPing:
		a.send(protocol.NewControlMessage(schema.MsgPong))
	case schema.MsgPong:
		a.recordPong()
	case schema.MsgDisconnect:
		a.logger.Info().Msg("netplay.dispatch remote disconnected")
		a.update(func(s *Stats) { s.RemoteGone = true })
		a.degrade("remote_disconnect")
	default:
		a.logger.Warn().Str("type", msg.Type.String()).Msg("netplay.dispatch unexpected message")
	}
}

func (a *Adapter) applyInput(msg protocol.Message) {
	cmd, err := protocol.DecodeInputMessage(msg)
	if err != nil {
		a.drop("malformed", err)
		return
	}
	ApplyInput(a.remote, cmd, a.cfg)
	a.metrics.RecordApplied("input")
	a.update(func(s *Stats) { s.InputsApplied++ })
}

// ApplyInput drives e with cmd using the controller rules: attack is ignored
// while shielding and the shield toggle honors its cooldown.
func ApplyInput(e Entity, cmd protocol.InputCommand, cfg Config) {
	c := cfg.WithDefaults()
	if cmd.MoveUp {
		e.MoveUp(c.AccelerationStep)
	}
	if cmd.MoveDown {
		e.MoveDown(c.AccelerationStep)
	}
	if cmd.MoveLeft {
		e.MoveLeft(c.AccelerationStep)
	}
	if cmd.MoveRight {
		e.MoveRight(c.AccelerationStep)
	}
	if cmd.DecreaseAggression {
		e.DecreaseAggression(c.AggressionStep)
	}
	if cmd.IncreaseAggression {
		e.IncreaseAggression(c.AggressionStep)
	}
	if cmd.Attack && !e.IsShielding() {
		e.Attack()
	}
	if cmd.Shield && e.CanToggleShield() {
		e.ToggleShield(c.ShieldCooldown)
	}
}

func (a *Adapter) applyState(msg protocol.Message) {
	snap, err := protocol.DecodeStateMessage(msg)
	if err != nil {
		a.drop("malformed", err)
		return
	}
	if snap.IsZero() {
		a.drop("malformed", protocol.ErrTruncated)
		return
	}
	if err := snap.Validate(); err != nil {
		a.drop("malformed", err)
		return
	}
	last := a.Stats().RemoteSequence
	if !protocol.SequenceNewer(snap.Sequence, last) {
		a.metrics.RecordDropped("stale")
		a.update(func(s *Stats) { s.StaleDropped++ })
		a.logger.Debug().Uint32("sequence", snap.Sequence).Uint32("last", last).Msg("netplay.applyState stale snapshot dropped")
		return
	}
	a.remote.ApplySnapshot(snap)
	a.metrics.RecordApplied("state")
	a.update(func(s *Stats) {
		s.StatesApplied++
		if snap.Sequence != 0 {
			s.RemoteSequence = snap.Sequence
		}
	})
}

func (a *Adapter) sendState() {
	snap := a.local.Snapshot()
	snap.Sequence = protocol.NextSequence(a.Stats().LocalSequence)
	if !a.send(protocol.NewStateMessage(snap)) {
		return
	}
	a.update(func(s *Stats) {
		s.StatesSent++
		s.LocalSequence = snap.Sequence
	})
}

func (a *Adapter) recordPong() {
	if a.pingSentAt.IsZero() {
		a.update(func(s *Stats) { s.PongsReceived++ })
		return
	}
	rtt := a.now().Sub(a.pingSentAt)
	a.pingSentAt = time.Time{}
	a.metrics.ObserveRTT(rtt)
	a.update(func(s *Stats) {
		s.PongsReceived++
		s.LastRTT = rtt
	})
}

// send reports whether msg was written. Failures never escape the tick.
func (a *Adapter) send(msg protocol.Message) bool {
	st := a.Stats()
	if st.Degraded {
		return false
	}
	if !a.tr.IsConnected() {
		if a.everConnected {
			a.degrade("disconnected")
		}
		return false
	}
	if err := a.tr.Send(msg); err != nil {
		failures := st.SendFailures + 1
		a.update(func(s *Stats) { s.SendFailures = failures })
		a.logger.Warn().Str("type", msg.Type.String()).Int("failures", failures).Err(err).Msg("netplay.send failed")
		if failures >= a.cfg.MaxSendFailures || !a.tr.IsConnected() {
			a.degrade("send_failures")
		}
		return false
	}
	if st.SendFailures != 0 {
		a.update(func(s *Stats) { s.SendFailures = 0 })
	}
	return true
}

func (a *Adapter) degrade(reason string) {
	a.mu.Lock()
	already := a.stats.Degraded
	a.stats.Degraded = true
	if !already {
		a.stats.DegradedReason = reason
	}
	a.mu.Unlock()
	if !already {
		a.logger.Warn().Str("reason", reason).Msg("netplay.degrade continuing locally")
	}
}

func (a *Adapter) drop(reason string, err error) {
	a.metrics.RecordDropped(reason)
	a.update(func(s *Stats) { s.MalformedDropped++ })
	a.logger.Debug().Err(err).Msg("netplay.drop " + reason)
}

func (a *Adapter) update(fn func(*Stats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}
