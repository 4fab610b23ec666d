package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "peer":
		return peerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hostTemplate = `id = "cellsync.host"
role = "host"
listen_addr = ":7777"
tick_rate = 60
status_interval = "5s"
diagnostics_addr = "127.0.0.1:7070"
cors_origins = ["http://localhost:3000"]
# admin_token = "change-me"
input_script = []

[session]
connect_timeout = "5s"
write_timeout = "2s"
idle_timeout = "10s"

[monitor]
max_messages_per_second = 100
max_payload_bytes = 1024
max_abnormal_streak = 5
throttle_delay = "50ms"
window = "1s"

[netplay]
state_rate = 30
heartbeat_interval = "2s"
max_send_failures = 3
`

const peerTemplate = `id = "cellsync.peer"
role = "peer"
host_addr = "127.0.0.1:7777"
tick_rate = 60
max_connect_attempts = 0
status_interval = "5s"
diagnostics_addr = "127.0.0.1:7071"
cors_origins = ["http://localhost:3000"]
# admin_token = "change-me"
input_script = ["right", "right", "attack", "idle"]

[session]
connect_timeout = "5s"
write_timeout = "2s"
idle_timeout = "10s"
backoff_initial_delay = "250ms"
backoff_max_delay = "5s"
backoff_jitter = true

[monitor]
max_messages_per_second = 100
max_payload_bytes = 1024
max_abnormal_streak = 5
throttle_delay = "50ms"
window = "1s"

[netplay]
state_rate = 30
heartbeat_interval = "2s"
max_send_failures = 3
`
