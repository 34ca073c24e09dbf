package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var knownCategories = []string{"bind", "mirror", "iterate", "verify", "commit"}

// Validate checks that all required fields are set and values are valid.
func (c *HubConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}

	if c.Hub.HeartbeatTimeout <= 0 {
		return errors.New("hub.heartbeat_timeout must be > 0")
	}
	if c.Hub.SweepInterval <= 0 || c.Hub.PhaseInterval <= 0 || c.Hub.AggregateInterval <= 0 {
		return errors.New("hub intervals must be > 0")
	}
	if c.Hub.PhasePeriod < time.Millisecond {
		return errors.New("hub.phase_period must be >= 1ms")
	}
	if err := validateUnit("hub.default_coherence", c.Hub.DefaultCoherence); err != nil {
		return err
	}
	if c.Hub.MaxPendingFrames < 1 {
		return errors.New("hub.max_pending_frames must be >= 1")
	}

	if err := c.Routing.validate(); err != nil {
		return err
	}

	switch c.Lanes.Driver {
	case "file":
		if c.Lanes.Dir == "" {
			return errors.New("lanes.dir is required for the file driver")
		}
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("lanes.driver must be \"file\" or \"postgres\", got %q", c.Lanes.Driver)
	}
	if c.Lanes.BatchSize < 1 {
		return errors.New("lanes.batch_size must be >= 1")
	}
	if c.Lanes.BufferSize < 1 {
		return errors.New("lanes.buffer_size must be >= 1")
	}

	if c.FieldLog.Enabled && c.FieldLog.Interval <= 0 {
		return errors.New("fieldlog.interval must be > 0")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be >= 0, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return errors.New("ratelimit.burst must be >= 1")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

func (r *RoutingConfig) validate() error {
	for _, cat := range knownCategories {
		v, ok := r.Thresholds[cat]
		if !ok {
			return fmt.Errorf("routing.thresholds.%s is required", cat)
		}
		if err := validateUnit("routing.thresholds."+cat, v); err != nil {
			return err
		}
		if r.Providers[cat].ID == "" {
			return fmt.Errorf("routing.providers.%s.id is required", cat)
		}
	}
	for _, cat := range sortedKeys(r.Thresholds) {
		if !isKnownCategory(cat) {
			return fmt.Errorf("routing.thresholds: unknown category %q", cat)
		}
	}
	for _, cat := range r.DegradedAllowed {
		if !isKnownCategory(cat) {
			return fmt.Errorf("routing.degraded_allowed: unknown category %q", cat)
		}
	}
	for name, v := range map[string]float64{
		"routing.coaching_threshold":    r.CoachingThreshold,
		"routing.truth_seal_coherence":  r.TruthSealCoherence,
		"routing.truth_seal_provenance": r.TruthSealProvenance,
		"routing.commit_provenance":     r.CommitProvenance,
	} {
		if err := validateUnit(name, v); err != nil {
			return err
		}
	}
	if r.SessionTracking && r.SessionCapacity < 1 {
		return errors.New("routing.session_capacity must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
	}
	return nil
}

func isKnownCategory(cat string) bool {
	for _, k := range knownCategories {
		if k == cat {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
