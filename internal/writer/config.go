package writer

import "time"

// WriterConfig holds batch settings shared by all lane writers.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // max queued records per lane; 0 = unbounded
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
}
