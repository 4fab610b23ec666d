package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/danmuck/cellsync/internal/protocol/session"
)

type PeerConfig struct {
	Address string
	Session session.Config
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		Address: "127.0.0.1:7777",
		Session: session.DefaultConfig(),
	}
}

// Peer dials exactly one Host.
type Peer struct {
	link
	cfg         PeerConfig
	addr        string
	initialized atomic.Bool
}

var _ Transport = (*Peer)(nil)

func NewPeer(cfg PeerConfig, opts ...Option) *Peer {
	p := &Peer{cfg: cfg}
	p.link.init(RolePeer, cfg.Session, opts)
	return p
}

// Initialize validates and resolves the Host address. It does not dial.
func (p *Peer) Initialize() error {
	if p.initialized.Load() || p.State() != StateIdle {
		return ErrAlreadyInitialized
	}
	addr := strings.TrimSpace(p.cfg.Address)
	if addr == "" {
		return fmt.Errorf("%w: %w", ErrResourceAcquisition, ErrAddressRequired)
	}
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		p.logger.Error().Str("addr", addr).Err(err).Msg("transport.Peer.Initialize resolve failed")
		return fmt.Errorf("%w: resolve %q: %w", ErrResourceAcquisition, addr, err)
	}
	if !p.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	p.addr = resolved.String()
	p.logger.Debug().Str("addr", p.addr).Msg("transport.Peer.Initialize resolved")
	return nil
}

// Connect makes one dial attempt bounded by the session connect timeout.
// A failed attempt returns the Peer to Idle so the caller may retry.
func (p *Peer) Connect(ctx context.Context) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		if p.State() == StateConnected {
			return nil
		}
		return fmt.Errorf("%w: state=%s", ErrNotConnected, p.State())
	}

	dialer := net.Dialer{Timeout: p.link.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		p.state.CompareAndSwap(int32(StateConnecting), int32(StateIdle))
		p.logger.Warn().Str("addr", p.addr).Err(err).Msg("transport.Peer.Connect dial failed")
		return fmt.Errorf("%w: dial %q: %w", ErrResourceAcquisition, p.addr, err)
	}
	if !p.attach(conn, StateConnecting) {
		_ = conn.Close()
		return ErrNotConnected
	}
	return nil
}
