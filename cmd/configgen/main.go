package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/cellsync/internal/config"
	"github.com/danmuck/cellsync/internal/logging"
	"github.com/rs/zerolog/log"
)

const defaultPath = "cmd/cellsyncd/config.toml"

func main() {
	kind := flag.String("kind", "host", "config kind: host|peer")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	print := flag.Bool("print", false, "with -validate, print the normalized config")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.LoadNodeConfig(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("configgen validate")
		}
		svc, err := cfg.ServiceConfig()
		if err != nil {
			log.Fatal().Err(err).Str("path", *input).Msg("configgen validate")
		}
		log.Info().
			Str("path", *input).
			Str("role", svc.Role.String()).
			Str("node", svc.NodeID).
			Msg("configgen validated config")
		if *print {
			out, err := config.Encode(cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("configgen encode")
			}
			fmt.Fprint(os.Stdout, string(out))
		}
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("configgen write")
	}
	log.Info().Str("kind", *kind).Str("path", *output).Msg("configgen wrote template")
}
