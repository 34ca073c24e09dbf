package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr          = ":8080"
	DefaultReadTimeout         = 15 * time.Second
	DefaultWriteTimeout        = 15 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultHeartbeatTimeout    = 30 * time.Second
	DefaultSweepInterval       = 10 * time.Second
	DefaultPhaseInterval       = 100 * time.Millisecond
	DefaultAggregateInterval   = 1 * time.Second
	DefaultPhasePeriod         = 3120 * time.Millisecond
	DefaultCoherence           = 0.75
	DefaultSendBufferSize      = 64
	DefaultMaxPendingFrames    = 1024
	DefaultWriteWait           = 5 * time.Second
	DefaultMaxMessageBytes     = 64 * 1024
	DefaultFallbackProvider    = "local-fallback"
	DefaultCoachingThreshold   = 0.5
	DefaultTruthSealCoherence  = 0.95
	DefaultTruthSealProvenance = 0.80
	DefaultCommitProvenance    = 0.80
	DefaultSessionCapacity     = 4096
	DefaultLaneDriver          = "file"
	DefaultLaneDir             = "data/lanes"
	DefaultLaneBatchSize       = 100
	DefaultLaneFlushInterval   = 1 * time.Second
	DefaultLaneBufferSize      = 1000
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultFieldLogInterval    = 60 * time.Second
	DefaultFieldLogPath        = "data/coherence_log.jsonl"
	DefaultRateLimitBurst      = 20
	DefaultMaxClockSkew        = 30 * time.Second
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// DefaultChannels are the subscriptions every client starts with.
var DefaultChannels = []string{"field_state", "periodic_signal"}

// DefaultThresholds are the minimum coherence scores per category.
var DefaultThresholds = map[string]float64{
	"bind":    0.68,
	"mirror":  0.68,
	"verify":  0.68,
	"iterate": 0.75,
	"commit":  0.88,
}

// DefaultProviders is the provider-selection table per category.
var DefaultProviders = map[string]ProviderConfig{
	"bind":    {ID: "bind-synth", RequiresUpstream: true},
	"mirror":  {ID: "local-mirror", RequiresUpstream: false},
	"iterate": {ID: "iterate-loop", RequiresUpstream: true},
	"verify":  {ID: "verifier", RequiresUpstream: true},
	"commit":  {ID: "commit-ledger", RequiresUpstream: true},
}

// DefaultDegradedAllowed are the categories that may proceed in degraded mode.
var DefaultDegradedAllowed = []string{"mirror", "verify"}

// ApplyDefaults fills every zero-valued optional field.
func (c *HubConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Hub defaults
	if c.Hub.HeartbeatTimeout == 0 {
		c.Hub.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Hub.SweepInterval == 0 {
		c.Hub.SweepInterval = DefaultSweepInterval
	}
	if c.Hub.PhaseInterval == 0 {
		c.Hub.PhaseInterval = DefaultPhaseInterval
	}
	if c.Hub.AggregateInterval == 0 {
		c.Hub.AggregateInterval = DefaultAggregateInterval
	}
	if c.Hub.PhasePeriod == 0 {
		c.Hub.PhasePeriod = DefaultPhasePeriod
	}
	if c.Hub.DefaultCoherence == 0 {
		c.Hub.DefaultCoherence = DefaultCoherence
	}
	if len(c.Hub.DefaultChannels) == 0 {
		c.Hub.DefaultChannels = append([]string(nil), DefaultChannels...)
	}
	if c.Hub.SendBufferSize == 0 {
		c.Hub.SendBufferSize = DefaultSendBufferSize
	}
	if c.Hub.MaxPendingFrames == 0 {
		c.Hub.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.Hub.WriteWait == 0 {
		c.Hub.WriteWait = DefaultWriteWait
	}
	if c.Hub.MaxMessageBytes == 0 {
		c.Hub.MaxMessageBytes = DefaultMaxMessageBytes
	}

	// Routing defaults; explicit table entries win per category.
	if c.Routing.Thresholds == nil {
		c.Routing.Thresholds = make(map[string]float64, len(DefaultThresholds))
	}
	for cat, v := range DefaultThresholds {
		if _, ok := c.Routing.Thresholds[cat]; !ok {
			c.Routing.Thresholds[cat] = v
		}
	}
	if c.Routing.Providers == nil {
		c.Routing.Providers = make(map[string]ProviderConfig, len(DefaultProviders))
	}
	for cat, p := range DefaultProviders {
		if _, ok := c.Routing.Providers[cat]; !ok {
			c.Routing.Providers[cat] = p
		}
	}
	if c.Routing.FallbackProvider == "" {
		c.Routing.FallbackProvider = DefaultFallbackProvider
	}
	if c.Routing.DegradedAllowed == nil {
		c.Routing.DegradedAllowed = append([]string(nil), DefaultDegradedAllowed...)
	}
	if c.Routing.CoachingThreshold == 0 {
		c.Routing.CoachingThreshold = DefaultCoachingThreshold
	}
	if c.Routing.TruthSealCoherence == 0 {
		c.Routing.TruthSealCoherence = DefaultTruthSealCoherence
	}
	if c.Routing.TruthSealProvenance == 0 {
		c.Routing.TruthSealProvenance = DefaultTruthSealProvenance
	}
	if c.Routing.CommitProvenance == 0 {
		c.Routing.CommitProvenance = DefaultCommitProvenance
	}
	if c.Routing.SessionCapacity == 0 {
		c.Routing.SessionCapacity = DefaultSessionCapacity
	}

	// Lanes defaults
	if c.Lanes.Driver == "" {
		c.Lanes.Driver = DefaultLaneDriver
	}
	if c.Lanes.Dir == "" {
		c.Lanes.Dir = DefaultLaneDir
	}
	if c.Lanes.BatchSize == 0 {
		c.Lanes.BatchSize = DefaultLaneBatchSize
	}
	if c.Lanes.FlushInterval == 0 {
		c.Lanes.FlushInterval = DefaultLaneFlushInterval
	}
	if c.Lanes.BufferSize == 0 {
		c.Lanes.BufferSize = DefaultLaneBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Field log defaults
	if c.FieldLog.Interval == 0 {
		c.FieldLog.Interval = DefaultFieldLogInterval
	}
	if c.FieldLog.Path == "" {
		c.FieldLog.Path = DefaultFieldLogPath
	}

	// Rate limit defaults
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}

	// Admin defaults
	if c.Admin.MaxClockSkew == 0 {
		c.Admin.MaxClockSkew = DefaultMaxClockSkew
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
