package config

import "time"

// Size and timing constants consumed by internal/transport.
const (
	MinChunk    int64 = 2 * MB
	MaxChunk    int64 = 64 * MB
	TargetChunk int64 = 8 * MB
	AlignSize   int64 = 4 * KB

	WorkerBuffer   = 256 * KB
	MaxTaskRetries = 3

	SlowWorkerThreshold = 0.3
	SlowWorkerGrace     = 5 * time.Second
	StallTimeout        = 30 * time.Second
	SpeedEMAAlpha       = 0.3

	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 15 * time.Second
	HealthCheckInterval          = 2 * time.Second
	RetryBaseDelay               = 2 * time.Second

	PerHostMax          = 4
	DefaultMaxIdleConns = 100

	ProgressChannelBuffer = 64

	defaultUserAgent = "fetchd/1.0"
)

// RuntimeConfig is the immutable, Transport/Scheduler/Retry-facing
// configuration derived from Settings via ToRuntimeConfig. All getters
// are nil-safe and zero-value-safe: a nil receiver or an unset field
// returns the package constant default.
type RuntimeConfig struct {
	MaxConnectionsPerHost int
	UserAgent             string
	MinChunkSize          int64
	MaxChunkSize          int64
	TargetChunkSize       int64
	WorkerBufferSize      int
	MaxTaskRetries        int
	SlowWorkerThreshold   float64
	SlowWorkerGracePeriod time.Duration
	StallTimeout          time.Duration
	SpeedEmaAlpha         float64
	PerHostRatePerSecond  float64
	DiskSafetyMarginBytes int64
	ConnectTimeout        time.Duration
}

func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return defaultUserAgent
	}
	return r.UserAgent
}

func (r *RuntimeConfig) GetMaxConnectionsPerHost() int {
	if r == nil || r.MaxConnectionsPerHost == 0 {
		return PerHostMax
	}
	return r.MaxConnectionsPerHost
}

func (r *RuntimeConfig) GetMinChunkSize() int64 {
	if r == nil || r.MinChunkSize == 0 {
		return MinChunk
	}
	return r.MinChunkSize
}

func (r *RuntimeConfig) GetMaxChunkSize() int64 {
	if r == nil || r.MaxChunkSize == 0 {
		return MaxChunk
	}
	return r.MaxChunkSize
}

func (r *RuntimeConfig) GetTargetChunkSize() int64 {
	if r == nil || r.TargetChunkSize == 0 {
		return TargetChunk
	}
	return r.TargetChunkSize
}

func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize == 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

func (r *RuntimeConfig) GetMaxTaskRetries() int {
	if r == nil || r.MaxTaskRetries == 0 {
		return MaxTaskRetries
	}
	return r.MaxTaskRetries
}

func (r *RuntimeConfig) GetSlowWorkerThreshold() float64 {
	if r == nil || r.SlowWorkerThreshold == 0 {
		return SlowWorkerThreshold
	}
	return r.SlowWorkerThreshold
}

func (r *RuntimeConfig) GetSlowWorkerGracePeriod() time.Duration {
	if r == nil || r.SlowWorkerGracePeriod == 0 {
		return SlowWorkerGrace
	}
	return r.SlowWorkerGracePeriod
}

func (r *RuntimeConfig) GetStallTimeout() time.Duration {
	if r == nil || r.StallTimeout == 0 {
		return StallTimeout
	}
	return r.StallTimeout
}

func (r *RuntimeConfig) GetSpeedEmaAlpha() float64 {
	if r == nil || r.SpeedEmaAlpha == 0 {
		return SpeedEMAAlpha
	}
	return r.SpeedEmaAlpha
}

func (r *RuntimeConfig) GetPerHostRatePerSecond() float64 {
	if r == nil || r.PerHostRatePerSecond == 0 {
		return 8
	}
	return r.PerHostRatePerSecond
}

func (r *RuntimeConfig) GetDiskSafetyMarginBytes() int64 {
	if r == nil || r.DiskSafetyMarginBytes == 0 {
		return 100 * MB
	}
	return r.DiskSafetyMarginBytes
}

func (r *RuntimeConfig) GetConnectTimeout() time.Duration {
	if r == nil || r.ConnectTimeout == 0 {
		return DialTimeout
	}
	return r.ConnectTimeout
}

// ToRuntimeConfig derives the immutable RuntimeConfig consumed by
// Transport/Scheduler/Retry from the user-editable Settings.
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxConnectionsPerHost: s.Connections.MaxConnectionsPerHost,
		UserAgent:             s.Connections.UserAgent,
		WorkerBufferSize:      s.Chunks.WorkerBufferSize,
		MaxTaskRetries:        s.Retry.MaxAttempts,
		StallTimeout:          s.Connections.StallTimeout,
		PerHostRatePerSecond:  s.Connections.PerHostRatePerSecond,
		DiskSafetyMarginBytes: s.Connections.DiskSafetyMarginBytes,
		ConnectTimeout:        s.Connections.ConnectTimeout,
	}
}
