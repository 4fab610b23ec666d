package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/server"
	"github.com/gorilla/websocket"
)

// DiagnosticsAdmin is the client boundary for one node's diagnostics server.
type DiagnosticsAdmin interface {
	Address() string
	Health(ctx context.Context) (map[string]any, error)
	Status(ctx context.Context) (json.RawMessage, error)
	Peers(ctx context.Context) (map[string]monitor.PeerStats, error)
	Thresholds(ctx context.Context) (server.ThresholdsBody, error)
	SetThresholds(ctx context.Context, body server.ThresholdsBody) (server.ThresholdsBody, error)
	ResetPeer(ctx context.Context, peer string) (monitor.PeerStats, error)
	Events(ctx context.Context, fn func(monitor.Event) bool) error
}

// RemoteAdmin talks to a node over HTTP and websocket.
type RemoteAdmin struct {
	base   *url.URL
	token  string
	client *http.Client
}

func NewRemoteAdmin(addr, token string) (*RemoteAdmin, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse target addr: %w", err)
	}
	return &RemoteAdmin{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *RemoteAdmin) Address() string {
	return c.base.String()
}

func (c *RemoteAdmin) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

func (c *RemoteAdmin) Status(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

func (c *RemoteAdmin) Peers(ctx context.Context) (map[string]monitor.PeerStats, error) {
	var out struct {
		Peers map[string]monitor.PeerStats `json:"peers"`
	}
	return out.Peers, c.do(ctx, http.MethodGet, "/monitor/peers", nil, &out)
}

func (c *RemoteAdmin) Thresholds(ctx context.Context) (server.ThresholdsBody, error) {
	var out server.ThresholdsBody
	return out, c.do(ctx, http.MethodGet, "/monitor/thresholds", nil, &out)
}

func (c *RemoteAdmin) SetThresholds(ctx context.Context, body server.ThresholdsBody) (server.ThresholdsBody, error) {
	var out server.ThresholdsBody
	return out, c.do(ctx, http.MethodPut, "/monitor/thresholds", body, &out)
}

func (c *RemoteAdmin) ResetPeer(ctx context.Context, peer string) (monitor.PeerStats, error) {
	var out monitor.PeerStats
	return out, c.do(ctx, http.MethodPost, "/monitor/peers/"+url.PathEscape(peer)+"/reset", nil, &out)
}

// Events streams monitor events until fn returns false or ctx ends.
func (c *RemoteAdmin) Events(ctx context.Context, fn func(monitor.Event) bool) error {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var ev monitor.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
}

func (c *RemoteAdmin) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
