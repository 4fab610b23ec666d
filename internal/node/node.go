// Package node runs one side of a cellsync session: transport, behavior
// monitor, reconciliation adapter, diagnostics, and the fixed-rate tick loop.
package node

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/cellsync/internal/cell"
	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/netplay"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/server"
	"github.com/danmuck/cellsync/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Spawn points in the default arena.
var (
	hostSpawn = cell.Vec2{X: 200, Y: 300}
	peerSpawn = cell.Vec2{X: 600, Y: 300}
)

// Status is the diagnostics view of a running node.
type Status struct {
	NodeID    string                       `json:"node_id"`
	Role      string                       `json:"role"`
	Uptime    string                       `json:"uptime"`
	Tick      uint64                       `json:"tick"`
	Transport transport.Stats              `json:"transport"`
	Adapter   netplay.Stats                `json:"adapter"`
	Monitor   map[string]monitor.PeerStats `json:"monitor"`
	Local     protocol.StateSnapshot       `json:"local"`
	Remote    protocol.StateSnapshot       `json:"remote"`
}

type frameView struct {
	tick   uint64
	local  protocol.StateSnapshot
	remote protocol.StateSnapshot
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithInput replaces the configured input script.
func WithInput(src InputSource) Option {
	return func(s *Service) {
		if src != nil {
			s.input = src
		}
	}
}

// Service owns every component of one node.
type Service struct {
	cfg     ServiceConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	input   InputSource

	monitor *monitor.Monitor
	hub     *server.Hub
	host    *transport.Host
	peer    *transport.Peer
	tr      transport.Transport
	local   *cell.Cell
	remote  *cell.Cell
	adapter *netplay.Adapter
	diag    *server.Server

	started atomic.Int64
	view    atomic.Pointer[frameView]
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	script, _ := ParseScript(cfg.InputScript)
	s := &Service{
		cfg:    cfg,
		logger: log.Logger,
		input:  ScriptedInput(script),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("node", cfg.NodeID).Str("role", cfg.Role.String()).Logger()

	s.hub = server.NewHub(s.logger)
	s.monitor = monitor.New(cfg.Monitor,
		monitor.WithLogger(s.logger),
		monitor.WithMetrics(s.metrics),
		monitor.WithEventSink(s.hub.Publish),
	)
	topts := []transport.Option{
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics),
		transport.WithMonitor(s.monitor),
	}
	if cfg.Role == transport.RoleHost {
		s.host = transport.NewHost(transport.HostConfig{ListenAddr: cfg.ListenAddr, Session: cfg.Session}, topts...)
		s.tr = s.host
		s.local, s.remote = cell.New(1, hostSpawn, 0.5), cell.New(2, peerSpawn, 0.5)
	} else {
		s.peer = transport.NewPeer(transport.PeerConfig{Address: cfg.HostAddr, Session: cfg.Session}, topts...)
		s.tr = s.peer
		s.local, s.remote = cell.New(2, peerSpawn, 0.5), cell.New(1, hostSpawn, 0.5)
	}
	s.adapter = netplay.New(s.tr, s.local, s.remote, cfg.Netplay,
		netplay.WithLogger(s.logger),
		netplay.WithMetrics(s.metrics),
	)
	if cfg.DiagnosticsAddr != "" {
		s.diag = server.New(server.Config{
			Addr:        cfg.DiagnosticsAddr,
			NodeID:      cfg.NodeID,
			CORSOrigins: cfg.CORSOrigins,
			AdminToken:  cfg.AdminToken,
		}, s.logger, s.metrics, s.monitor, s.hub, func() any { return s.Status() })
	}
	s.view.Store(&frameView{local: s.local.Snapshot(), remote: s.remote.Snapshot()})
	return s, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve starts the node and ticks until ctx is cancelled. Every return path,
// including a failed start, stops the diagnostics server before returning.
func (s *Service) Serve(ctx context.Context) error {
	s.started.Store(time.Now().UnixNano())
	defer s.adapter.Close()

	ctx, cancel := context.WithCancel(ctx)
	diagErr := make(chan error, 1)
	diagDone := make(chan struct{})
	if s.diag != nil {
		go func() {
			defer close(diagDone)
			diagErr <- s.diag.Serve(ctx)
		}()
	} else {
		close(diagDone)
	}
	defer func() {
		cancel()
		<-diagDone
	}()

	if err := s.tr.Initialize(); err != nil {
		return fmt.Errorf("node: initialize %s transport: %w", s.cfg.Role, err)
	}
	if s.peer != nil {
		if err := transport.ConnectWithBackoff(ctx, s.peer, s.cfg.MaxConnectAttempts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("node: connect to host %s: %w", s.cfg.HostAddr, err)
		}
	}
	s.logger.Info().
		Int("tick_rate", s.cfg.TickRate).
		Str("diagnostics", s.cfg.DiagnosticsAddr).
		Msg("node.Service.Serve ready")

	interval := s.cfg.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	statusEvery := s.cfg.StatusInterval
	if statusEvery <= 0 {
		statusEvery = time.Hour
	}
	status := time.NewTicker(statusEvery)
	defer status.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Uint64("ticks", tick).Msg("node.Service.Serve shutdown")
			return nil
		case err := <-diagErr:
			if err != nil {
				return fmt.Errorf("node: diagnostics: %w", err)
			}
		case <-ticker.C:
			s.step(tick, interval)
			tick++
		case <-status.C:
			st := s.Status()
			s.logger.Info().
				Str("transport", st.Transport.State).
				Str("session", st.Transport.SessionID).
				Bool("degraded", st.Adapter.Degraded).
				Uint64("states_applied", st.Adapter.StatesApplied).
				Uint64("inputs_applied", st.Adapter.InputsApplied).
				Dur("rtt", st.Adapter.LastRTT).
				Msg("node.Service.heartbeat")
		}
	}
}

// step runs one fixed tick: local intent, network reconciliation, physics.
func (s *Service) step(tick uint64, dt time.Duration) {
	start := time.Now()
	if cmd := s.input(tick); cmd.Any() {
		netplay.ApplyInput(s.local, cmd, s.cfg.Netplay)
		s.adapter.SendInput(cmd)
	}
	s.adapter.Tick(dt)
	secs := float32(dt.Seconds())
	s.local.Update(secs, s.cfg.Physics)
	s.remote.Update(secs, s.cfg.Physics)
	s.view.Store(&frameView{tick: tick + 1, local: s.local.Snapshot(), remote: s.remote.Snapshot()})
	s.metrics.ObserveTick(time.Since(start))
}

// Status is safe to call from any goroutine.
func (s *Service) Status() Status {
	v := s.view.Load()
	st := Status{
		NodeID:  s.cfg.NodeID,
		Role:    s.cfg.Role.String(),
		Tick:    v.tick,
		Adapter: s.adapter.Stats(),
		Monitor: s.monitor.Snapshot(),
		Local:   v.local,
		Remote:  v.remote,
	}
	if ns := s.started.Load(); ns != 0 {
		st.Uptime = time.Since(time.Unix(0, ns)).Truncate(time.Millisecond).String()
	}
	switch {
	case s.host != nil:
		st.Transport = s.host.Stats()
	case s.peer != nil:
		st.Transport = s.peer.Stats()
	}
	return st
}

// TransportAddr is the bound host listen address, or nil for peers and before Serve.
func (s *Service) TransportAddr() net.Addr {
	if s.host == nil {
		return nil
	}
	return s.host.Addr()
}

func (s *Service) Monitor() *monitor.Monitor {
	return s.monitor
}

func (s *Service) Diagnostics() *server.Server {
	return s.diag
}
