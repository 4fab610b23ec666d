package server

import (
	"net/http"
	"time"

	"github.com/danmuck/cellsync/internal/auth"
	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/gin-gonic/gin"
)

// ThresholdsBody is the JSON shape of monitor thresholds, durations in milliseconds.
type ThresholdsBody struct {
	MaxMessagesPerSecond float64 `json:"max_messages_per_second"`
	MaxPayloadBytes      int     `json:"max_payload_bytes"`
	MaxAbnormalStreak    int     `json:"max_abnormal_streak"`
	ThrottleDelayMS      int64   `json:"throttle_delay_ms"`
	WindowMS             int64   `json:"window_ms"`
}

func NewThresholdsBody(t monitor.Thresholds) ThresholdsBody {
	return ThresholdsBody{
		MaxMessagesPerSecond: t.MaxMessagesPerSecond,
		MaxPayloadBytes:      t.MaxPayloadBytes,
		MaxAbnormalStreak:    t.MaxAbnormalStreak,
		ThrottleDelayMS:      t.ThrottleDelay.Milliseconds(),
		WindowMS:             t.Window.Milliseconds(),
	}
}

func (b ThresholdsBody) Thresholds() monitor.Thresholds {
	return monitor.Thresholds{
		MaxMessagesPerSecond: b.MaxMessagesPerSecond,
		MaxPayloadBytes:      b.MaxPayloadBytes,
		MaxAbnormalStreak:    b.MaxAbnormalStreak,
		ThrottleDelay:        time.Duration(b.ThrottleDelayMS) * time.Millisecond,
		Window:               time.Duration(b.WindowMS) * time.Millisecond,
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.NodeID,
			"version": version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status())
	})

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	if s.hub != nil {
		s.router.GET("/events", s.hub.ServeWS)
	}

	if s.monitor == nil {
		return
	}
	s.router.GET("/monitor/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.monitor.Snapshot()})
	})
	s.router.GET("/monitor/thresholds", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewThresholdsBody(s.monitor.Thresholds()))
	})

	admin := s.router.Group("/monitor", s.requireAdmin())
	admin.PUT("/thresholds", func(c *gin.Context) {
		var body ThresholdsBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.monitor.SetThresholds(body.Thresholds()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, NewThresholdsBody(s.monitor.Thresholds()))
	})
	admin.POST("/peers/:peer/reset", func(c *gin.Context) {
		peer := c.Param("peer")
		if _, ok := s.monitor.Peer(peer); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown peer"})
			return
		}
		s.monitor.Reset(peer)
		st, _ := s.monitor.Peer(peer)
		c.JSON(http.StatusOK, st)
	})
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	if s.cfg.AdminToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Require(auth.StaticToken{Token: s.cfg.AdminToken}, s.logger)
}
