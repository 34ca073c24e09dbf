package hub

import (
	"time"

	"github.com/rickgao/coherence-hub/internal/config"
)

// Config holds hub timing and connection settings.
type Config struct {
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	PhaseInterval     time.Duration
	AggregateInterval time.Duration
	PhasePeriod       time.Duration
	SendBufferSize    int
	MaxPendingFrames  int
	WriteWait         time.Duration
	MaxMessageBytes   int64
	AllowedOrigins    []string // empty allows any origin
}

// ConfigFrom builds a hub Config from loaded settings.
func ConfigFrom(s config.HubSettings, server config.ServerConfig) Config {
	return Config{
		HeartbeatTimeout:  s.HeartbeatTimeout,
		SweepInterval:     s.SweepInterval,
		PhaseInterval:     s.PhaseInterval,
		AggregateInterval: s.AggregateInterval,
		PhasePeriod:       s.PhasePeriod,
		SendBufferSize:    s.SendBufferSize,
		MaxPendingFrames:  s.MaxPendingFrames,
		WriteWait:         s.WriteWait,
		MaxMessageBytes:   s.MaxMessageBytes,
		AllowedOrigins:    server.AllowedOrigins,
	}
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	cfg := config.Default()
	return ConfigFrom(cfg.Hub, cfg.Server)
}
