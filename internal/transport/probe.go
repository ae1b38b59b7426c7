package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/retry"
)

// ProbeResult reports what a HEAD-equivalent Range probe learned about
// a URL before the Scheduler commits a slot to it.
type ProbeResult struct {
	SizeBytes     int64
	SupportsRange bool
}

// Probe issues `Range: bytes=0-0` against rawURL to discover size and
// range support ahead of starting a full transfer. It makes up to 3
// attempts when the request itself fails; an HTTP error status is
// returned without retrying.
func Probe(ctx context.Context, rawURL string, rt *config.RuntimeConfig) (ProbeResult, error) {
	var lastErr error
	for attempt := 0; attempt < defaultProbeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(probeRetryDelay)
		}

		probeCtx, cancel := context.WithTimeout(ctx, config.ProbeTimeout)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			cancel()
			return ProbeResult{}, &retry.Error{Kind: retry.KindInternalInvariant, Cause: err}
		}
		req.Header.Set("Range", "bytes=0-0")
		req.Header.Set("User-Agent", rt.GetUserAgent())

		resp, err := probeClient.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		result, perr := parseProbeResponse(resp)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if perr != nil {
			return ProbeResult{}, perr
		}
		return result, nil
	}
	return ProbeResult{}, &retry.Error{Kind: retry.KindNetworkUnavailable, Cause: fmt.Errorf("probe failed after %d attempts: %w", defaultProbeRetries, lastErr)}
}

func parseProbeResponse(resp *http.Response) (ProbeResult, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return ProbeResult{SizeBytes: contentLength(resp), SupportsRange: true}, nil
	case http.StatusOK:
		size := resp.ContentLength
		if size < 0 {
			size = 0
		}
		return ProbeResult{SizeBytes: size, SupportsRange: false}, nil
	default:
		return ProbeResult{}, &retry.Error{
			Kind:       retry.ClassifyHTTPStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
}
