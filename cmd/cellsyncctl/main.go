package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/cellsync/internal/logging"
	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/server"
	"github.com/rs/zerolog/log"
)

const targetsPath = "cmd/cellsyncctl/targets.toml"

const usage = `usage: cellsyncctl [flags] <command> [args]

commands:
  health                      node liveness
  status                      transport, adapter and monitor state
  peers                       monitor records per peer
  thresholds                  current monitor thresholds
  set-thresholds key=value..  update thresholds (keys as in 'thresholds')
  reset <peer>                clear a peer's streak and lift its throttle
  events [-n count]           stream monitor events
`

func main() {
	targets := flag.String("targets", targetsPath, "targets file (TOML)")
	target := flag.String("target", "", "named target from the targets file")
	addr := flag.String("addr", "", "diagnostics address, overrides -target")
	token := flag.String("token", os.Getenv("CELLSYNC_ADMIN_TOKEN"), "admin bearer token")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.ConfigureRuntime()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	tc := targetConfig{Addr: *addr, Token: *token}
	if tc.Addr == "" {
		file, err := loadTargets(*targets)
		if err != nil {
			log.Fatal().Err(err).Msg("cellsyncctl")
		}
		tc, err = file.resolve(*target)
		if err != nil {
			log.Fatal().Err(err).Msg("cellsyncctl")
		}
		if *token != "" {
			tc.Token = *token
		}
	}
	admin, err := NewRemoteAdmin(tc.Addr, tc.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("cellsyncctl")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, admin, flag.Args(), os.Stdout); err != nil {
		log.Error().Err(err).Str("target", admin.Address()).Msg("cellsyncctl")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, admin DiagnosticsAdmin, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "health":
		v, err := admin.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, v)
	case "status":
		v, err := admin.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, v)
	case "peers":
		peers, err := admin.Peers(ctx)
		if err != nil {
			return err
		}
		printPeers(out, peers)
		return nil
	case "thresholds":
		v, err := admin.Thresholds(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, v)
	case "set-thresholds":
		cur, err := admin.Thresholds(ctx)
		if err != nil {
			return err
		}
		next, err := applyThresholdArgs(cur, rest)
		if err != nil {
			return err
		}
		v, err := admin.SetThresholds(ctx, next)
		if err != nil {
			return err
		}
		return printJSON(out, v)
	case "reset":
		if len(rest) != 1 {
			return fmt.Errorf("reset requires exactly one peer")
		}
		v, err := admin.ResetPeer(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(out, v)
	case "events":
		fs := flag.NewFlagSet("events", flag.ContinueOnError)
		limit := fs.Int("n", 0, "stop after n events (0 streams until interrupted)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		seen := 0
		return admin.Events(ctx, func(ev monitor.Event) bool {
			fmt.Fprintf(out, "%s %-8s peer=%s streak=%d rate=%.1f bytes=%d\n",
				ev.At.Format("15:04:05.000"), ev.Kind, ev.Peer, ev.Streak, ev.Rate, ev.PayloadBytes)
			seen++
			return *limit == 0 || seen < *limit
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func applyThresholdArgs(cur server.ThresholdsBody, args []string) (server.ThresholdsBody, error) {
	if len(args) == 0 {
		return cur, fmt.Errorf("set-thresholds requires key=value arguments")
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return cur, fmt.Errorf("invalid argument %q (expected key=value)", arg)
		}
		var err error
		switch strings.TrimSpace(key) {
		case "max_messages_per_second":
			cur.MaxMessagesPerSecond, err = strconv.ParseFloat(raw, 64)
		case "max_payload_bytes":
			cur.MaxPayloadBytes, err = strconv.Atoi(raw)
		case "max_abnormal_streak":
			cur.MaxAbnormalStreak, err = strconv.Atoi(raw)
		case "throttle_delay_ms":
			cur.ThrottleDelayMS, err = strconv.ParseInt(raw, 10, 64)
		case "window_ms":
			cur.WindowMS, err = strconv.ParseInt(raw, 10, 64)
		default:
			return cur, fmt.Errorf("unknown threshold %q", key)
		}
		if err != nil {
			return cur, fmt.Errorf("threshold %s: %w", key, err)
		}
	}
	return cur, nil
}

func printPeers(out io.Writer, peers map[string]monitor.PeerStats) {
	if len(peers) == 0 {
		fmt.Fprintln(out, "no peers observed")
		return
	}
	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := peers[name]
		fmt.Fprintf(out, "%s messages=%d anomalies=%d rate=%.1f streak=%d warned=%v throttled=%v\n",
			name, p.Messages, p.Anomalies, p.LastRate, p.AbnormalStreak, p.Warned, p.Throttled)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
