package config

import "time"

// HubConfig is the root configuration for a hub instance.
type HubConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Hub       HubSettings     `yaml:"hub"`
	Routing   RoutingConfig   `yaml:"routing"`
	Lanes     LanesConfig     `yaml:"lanes"`
	Database  DatabaseConfig  `yaml:"database"`
	FieldLog  FieldLogConfig  `yaml:"fieldlog"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Admin     AdminConfig     `yaml:"admin"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this hub.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // empty = any origin
}

// HubSettings holds connection registry, liveness and broadcast settings.
type HubSettings struct {
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	PhaseInterval     time.Duration `yaml:"phase_interval"`
	AggregateInterval time.Duration `yaml:"aggregate_interval"`
	PhasePeriod       time.Duration `yaml:"phase_period"`
	DefaultCoherence  float64       `yaml:"default_coherence"`
	DefaultChannels   []string      `yaml:"default_channels"`
	SendBufferSize    int           `yaml:"send_buffer_size"` // initial per-connection queue capacity
	MaxPendingFrames  int           `yaml:"max_pending_frames"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

// RoutingConfig holds the policy table consumed by the routing engine.
type RoutingConfig struct {
	Degraded            bool                      `yaml:"degraded"`
	Thresholds          map[string]float64        `yaml:"thresholds"`
	Providers           map[string]ProviderConfig `yaml:"providers"`
	FallbackProvider    string                    `yaml:"fallback_provider"`
	DegradedAllowed     []string                  `yaml:"degraded_allowed"`
	CoachingThreshold   float64                   `yaml:"coaching_threshold"`
	TruthSealCoherence  float64                   `yaml:"truth_seal_coherence"`
	TruthSealProvenance float64                   `yaml:"truth_seal_provenance"`
	CommitProvenance    float64                   `yaml:"commit_provenance"`
	SessionTracking     bool                      `yaml:"session_tracking"`
	SessionCapacity     int                       `yaml:"session_capacity"`
}

// ProviderConfig describes the downstream provider a category routes to.
type ProviderConfig struct {
	ID               string `yaml:"id"`
	RequiresUpstream bool   `yaml:"requires_upstream"`
}

// LanesConfig holds lane store and writer settings.
type LanesConfig struct {
	Driver        string        `yaml:"driver"` // "file" or "postgres"
	Dir           string        `yaml:"dir"`    // file driver only
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the Postgres connection used by the postgres lane
// driver and the field-state log.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// FieldLogConfig holds field-state snapshot logging settings.
type FieldLogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Path     string        `yaml:"path"` // JSONL file when lanes.driver is "file"
}

// RateLimitConfig holds per-client rate limits for the routing endpoint.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables limiting
	Burst             int     `yaml:"burst"`
}

// AdminConfig holds admin endpoint authentication settings.
type AdminConfig struct {
	PublicKeyPath string        `yaml:"public_key_path"` // empty = admin endpoints unauthenticated
	MaxClockSkew  time.Duration `yaml:"max_clock_skew"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
