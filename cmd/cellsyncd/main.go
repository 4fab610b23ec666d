package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/cellsync/internal/node"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/joho/godotenv"
)

const defaultConfigPath = "cmd/cellsyncd/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to node config (TOML)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cellsyncd: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	logger := observability.InitLogger("cellsyncd")

	cfg := node.DefaultServiceConfig()
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cellsyncd: %v\n", err)
			os.Exit(1)
		}
	} else if *configPath != defaultConfigPath {
		fmt.Fprintf(os.Stderr, "cellsyncd: %v\n", err)
		os.Exit(1)
	} else {
		logger.Warn().Str("path", *configPath).Msg("cellsyncd config not found, using defaults")
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "cellsyncd: %v\n", err)
		os.Exit(1)
	}

	svc, err := node.NewServiceWithConfig(cfg,
		node.WithLogger(logger),
		node.WithMetrics(observability.NewMetrics()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cellsyncd: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "cellsyncd: %v\n", err)
		os.Exit(1)
	}
}
