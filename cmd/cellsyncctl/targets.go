package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

// targetsFile lists named diagnostics endpoints.
type targetsFile struct {
	Default string         `toml:"default"`
	Targets []targetConfig `toml:"targets"`
}

type targetConfig struct {
	Name  string `toml:"name"`
	Addr  string `toml:"addr"`
	Token string `toml:"token"`
}

func loadTargets(path string) (targetsFile, error) {
	var cfg targetsFile
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return targetsFile{}, nil
		}
		return targetsFile{}, fmt.Errorf("load targets: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Targets))
	for i, t := range cfg.Targets {
		name := strings.TrimSpace(t.Name)
		if name == "" || strings.TrimSpace(t.Addr) == "" {
			return targetsFile{}, fmt.Errorf("load targets: target[%d] requires name and addr", i)
		}
		if seen[name] {
			return targetsFile{}, fmt.Errorf("load targets: duplicate target %q", name)
		}
		seen[name] = true
	}
	return cfg, nil
}

// resolve picks the named target, the default, or the only one configured.
func (f targetsFile) resolve(name string) (targetConfig, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" && len(f.Targets) == 1 {
		return f.Targets[0], nil
	}
	for _, t := range f.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	if name == "" {
		return targetConfig{}, fmt.Errorf("no target selected (use -addr or -target)")
	}
	return targetConfig{}, fmt.Errorf("unknown target %q", name)
}
