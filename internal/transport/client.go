// Package transport implements the HTTP Range GET contract: given
// (url, resume_token?), stream bytes to a temp file, emit progress,
// and produce a ResumeToken on pause or failure.
//
// One HTTP connection runs per task; concurrency is across tasks, not
// within a single task's byte range.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingestlab/fetchd/internal/config"
)

// bufPool reduces GC pressure on the hot copy loop.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, config.WorkerBuffer)
		return &buf
	},
}

// HostLimiter rate-gates new connection attempts per host so a burst of
// task starts against one host doesn't open unbounded sockets. Distinct
// from the Retry Policy's backoff, which governs per-task retry timing
// after a failure.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func NewHostLimiter(ratePerSecond float64) *HostLimiter {
	return &HostLimiter{limiters: map[string]*rate.Limiter{}, rps: ratePerSecond}
}

func (h *HostLimiter) forHost(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.rps), 1+int(h.rps))
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until host is allowed to open another connection, or ctx
// is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.forHost(host).Wait(ctx)
}

// newClient builds an *http.Client tuned per rt: dial/TLS/idle
// timeouts and a per-host connection cap.
func newClient(rt *config.RuntimeConfig) *http.Client {
	perHost := rt.GetMaxConnectionsPerHost()
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   rt.GetConnectTimeout(),
			KeepAlive: config.KeepAliveDuration,
		}).DialContext,
		MaxIdleConns:          config.DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       perHost,
		IdleConnTimeout:       config.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   config.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: config.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: config.DefaultExpectContinueTimeout,
	}
	return &http.Client{Transport: transport}
}

var probeClient = &http.Client{Timeout: config.ProbeTimeout}

const defaultProbeRetries = 3
const probeRetryDelay = time.Second
