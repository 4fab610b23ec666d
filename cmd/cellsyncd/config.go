package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cellsync/internal/config"
	"github.com/danmuck/cellsync/internal/node"
)

// Environment overrides applied after the config file.
const (
	envRole            = "CELLSYNC_ROLE"
	envNodeID          = "CELLSYNC_NODE_ID"
	envListenAddr      = "CELLSYNC_LISTEN_ADDR"
	envHostAddr        = "CELLSYNC_HOST_ADDR"
	envDiagnosticsAddr = "CELLSYNC_DIAGNOSTICS_ADDR"
	envAdminToken      = "CELLSYNC_ADMIN_TOKEN"
)

// cellsyncd loader for TOML config with default overlay.
func loadServiceConfig(path string) (node.ServiceConfig, error) {
	var raw config.NodeConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.ServiceConfig{}, fmt.Errorf("load cellsyncd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return node.ServiceConfig{}, fmt.Errorf("load cellsyncd config: unknown keys %s", strings.Join(keys, ", "))
	}
	if !meta.IsDefined("role") {
		return node.ServiceConfig{}, fmt.Errorf("load cellsyncd config: role is required")
	}
	cfg, err := raw.ServiceConfig()
	if err != nil {
		return node.ServiceConfig{}, fmt.Errorf("load cellsyncd config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays process environment values onto cfg. A set but empty
// CELLSYNC_DIAGNOSTICS_ADDR disables diagnostics.
func applyEnv(cfg *node.ServiceConfig, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	if v := get(envRole); v != "" {
		role, err := node.ParseRole(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRole, err)
		}
		cfg.Role = role
	}
	if v := get(envNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := get(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := get(envHostAddr); v != "" {
		cfg.HostAddr = v
	}
	if v := get(envAdminToken); v != "" {
		cfg.AdminToken = v
	}
	if v, ok := lookup(envDiagnosticsAddr); ok {
		cfg.DiagnosticsAddr = strings.TrimSpace(v)
	}
	return cfg.Validate()
}
