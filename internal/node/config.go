package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/cellsync/internal/cell"
	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/netplay"
	"github.com/danmuck/cellsync/internal/protocol/session"
	"github.com/danmuck/cellsync/internal/transport"
)

var (
	ErrInvalidRole     = errors.New("node: invalid role")
	ErrInvalidTickRate = errors.New("node: invalid tick rate")
)

// ServiceConfig configures one cellsync node.
type ServiceConfig struct {
	NodeID string
	Role   transport.Role
	// ListenAddr is used by the host role, HostAddr by the peer role.
	ListenAddr         string
	HostAddr           string
	TickRate           int
	MaxConnectAttempts int
	StatusInterval     time.Duration
	// DiagnosticsAddr empty disables the HTTP diagnostics server.
	DiagnosticsAddr string
	CORSOrigins     []string
	AdminToken      string
	InputScript     []string

	Session session.Config
	Monitor monitor.Thresholds
	Netplay netplay.Config
	Physics cell.Physics
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "cellsync.local",
		Role:            transport.RoleHost,
		ListenAddr:      transport.DefaultHostConfig().ListenAddr,
		HostAddr:        transport.DefaultPeerConfig().Address,
		TickRate:        60,
		StatusInterval:  5 * time.Second,
		DiagnosticsAddr: "127.0.0.1:7070",
		CORSOrigins:     []string{"http://localhost:3000"},
		Session:         session.DefaultConfig(),
		Monitor:         monitor.DefaultThresholds(),
		Netplay:         netplay.DefaultConfig(),
		Physics:         cell.DefaultPhysics(),
	}
}

// ParseRole accepts "host" or "peer".
func ParseRole(s string) (transport.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return transport.RoleHost, nil
	case "peer":
		return transport.RolePeer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (c ServiceConfig) Validate() error {
	switch c.Role {
	case transport.RoleHost:
		if strings.TrimSpace(c.ListenAddr) == "" {
			return fmt.Errorf("node config: host role requires listen addr: %w", transport.ErrAddressRequired)
		}
	case transport.RolePeer:
		if strings.TrimSpace(c.HostAddr) == "" {
			return fmt.Errorf("node config: peer role requires host addr: %w", transport.ErrAddressRequired)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRole, c.Role)
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("%w: %d", ErrInvalidTickRate, c.TickRate)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("node config: max connect attempts must be >= 0, got %d", c.MaxConnectAttempts)
	}
	if _, err := ParseScript(c.InputScript); err != nil {
		return err
	}
	return c.Monitor.Validate()
}

func (c ServiceConfig) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
