package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/danmuck/cellsync/internal/protocol/session"
)

type HostConfig struct {
	ListenAddr string
	Session    session.Config
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		ListenAddr: ":7777",
		Session:    session.DefaultConfig(),
	}
}

// Host listens and accepts exactly one Peer. Further inbound connections are
// closed as soon as they are accepted.
type Host struct {
	link
	cfg HostConfig
}

var _ Transport = (*Host)(nil)

func NewHost(cfg HostConfig, opts ...Option) *Host {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultHostConfig().ListenAddr
	}
	h := &Host{cfg: cfg}
	h.link.init(RoleHost, cfg.Session, opts)
	return h
}

// Initialize binds the listener and starts the accept goroutine.
func (h *Host) Initialize() error {
	if !h.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		return ErrAlreadyInitialized
	}
	ln, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		h.state.Store(int32(StateIdle))
		h.logger.Error().Str("addr", h.cfg.ListenAddr).Err(err).Msg("transport.Host.Initialize listen failed")
		return fmt.Errorf("%w: listen %q: %w", ErrResourceAcquisition, h.cfg.ListenAddr, err)
	}

	h.connMu.Lock()
	if h.State() != StateListening {
		h.connMu.Unlock()
		_ = ln.Close()
		return ErrAlreadyInitialized
	}
	h.ln = ln
	h.wg.Add(1)
	h.connMu.Unlock()

	h.logger.Info().Str("addr", ln.Addr().String()).Msg("transport.Host.Initialize listening")
	go h.acceptLoop(ln)
	return nil
}

// Addr is the bound listen address, or nil before Initialize.
func (h *Host) Addr() net.Addr {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

func (h *Host) acceptLoop(ln net.Listener) {
	defer h.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || h.State() == StateDisconnected {
				h.logger.Debug().Msg("transport.Host.acceptLoop exit")
				return
			}
			h.logger.Error().Err(err).Msg("transport.Host.acceptLoop accept failed")
			h.disconnect("accept_failure", err)
			return
		}
		if h.attach(conn, StateListening) {
			continue
		}
		h.metrics.RecordRejectedConn()
		h.logger.Warn().
			Str("remote", conn.RemoteAddr().String()).
			Str("active", h.RemoteAddr()).
			Msg("transport.Host.acceptLoop rejected extra connection")
		_ = conn.Close()
	}
}
