// Package transport carries framed messages between exactly one Host and one Peer
// over a single TCP stream.
//
// Both roles implement Transport. Each instance runs at most two background
// goroutines (accept or connect, and receive); the simulation side only ever
// calls Send and the non-blocking TryReceive.
package transport

import (
	"errors"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var (
	ErrResourceAcquisition = errors.New("transport: resource acquisition failed")
	ErrNotConnected        = errors.New("transport: not connected")
	ErrAlreadyInitialized  = errors.New("transport: already initialized")
	ErrNotInitialized      = errors.New("transport: not initialized")
	ErrPeerClosed          = errors.New("transport: peer closed connection")
	ErrAddressRequired     = errors.New("transport: address required")
)

// Transport is the surface the reconciliation adapter drives.
type Transport interface {
	Initialize() error
	Send(msg protocol.Message) error
	TryReceive() (protocol.Message, bool)
	IsConnected() bool
	SetOnMessage(fn func(protocol.Message))
	Shutdown()
	State() State
	Role() Role
}

type State int32

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Role uint8

const (
	RoleHost Role = iota + 1
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of one transport.
type Stats struct {
	Role       string `json:"role"`
	State      string `json:"state"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	SendErrors uint64 `json:"send_errors"`
	Queued     int    `json:"queued"`
	SendDelay  string `json:"send_delay"`
}

type Option func(*link)

// WithMonitor feeds every inbound frame to m and lets m throttle this transport.
func WithMonitor(m *monitor.Monitor) Option {
	return func(l *link) {
		l.monitor = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *link) {
		l.logger = logger
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *link) {
		l.metrics = metrics
	}
}

func WithLimits(limits frame.Limits) Option {
	return func(l *link) {
		l.limits = limits
	}
}
