package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/resumetoken"
	"github.com/ingestlab/fetchd/internal/retry"
)

var log = logging.For("transport")

// Progress is invoked after each chunk is flushed to disk.
type Progress func(bytesWritten, totalExpected int64)

// Result summarizes a finished or interrupted Job.Run.
type Result struct {
	BytesWritten int64
	TotalBytes   int64
	Validator    string
}

// Job executes one task's HTTP GET against its current resume state.
// One Job exists per in-flight task; tasks run in parallel, each owning
// its own temp file.
type Job struct {
	client      *http.Client
	hostLimiter *HostLimiter
	rt          *config.RuntimeConfig
}

func NewJob(rt *config.RuntimeConfig, hostLimiter *HostLimiter) *Job {
	return &Job{client: newClient(rt), hostLimiter: hostLimiter, rt: rt}
}

// Run streams rawURL to tmpPath. If resume is non-nil, it issues
// `Range: bytes=<offset>-` and requires the response validator to match
// resume.Validator; on mismatch it returns a *retry.Error with
// Kind == KindValidatorChanged and does not touch tmpPath, leaving the
// caller (Scheduler) to decide whether to reset and retry.
//
// Run returns when the download completes, ctx is cancelled (pause or
// cancel — the caller distinguishes by whether it wanted a resume
// token), or an unrecoverable error occurs. On any early return, Result
// still reports BytesWritten/TotalBytes/Validator so the caller can
// build a ResumeToken.
func (j *Job) Run(ctx context.Context, rawURL string, tmpPath string, resume *resumetoken.Token, onProgress Progress) (Result, error) {
	var startOffset int64
	var early Result
	if resume != nil {
		startOffset = resume.NextOffset
		early = Result{BytesWritten: startOffset, Validator: resume.Validator}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return early, &retry.Error{Kind: retry.KindHTTPPermanent, Cause: err}
	}
	if err := j.hostLimiter.Wait(ctx, u.Host); err != nil {
		return early, &retry.Error{Kind: retry.KindCancelled, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return early, &retry.Error{Kind: retry.KindInternalInvariant, Cause: err}
	}
	req.Header.Set("User-Agent", j.rt.GetUserAgent())

	if resume != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return early, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	validator := responseValidator(resp.Header)

	if resume != nil {
		if resp.StatusCode != http.StatusPartialContent || validator != resume.Validator {
			log.Warn().Str("url", rawURL).Str("want", resume.Validator).Str("got", validator).
				Msg("validator changed on resume")
			io.Copy(io.Discard, resp.Body)
			return Result{Validator: validator}, &retry.Error{Kind: retry.KindValidatorChanged}
		}
	} else if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return Result{}, &retry.Error{
			Kind:       retry.ClassifyHTTPStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	total := startOffset + contentLength(resp)

	flags := os.O_CREATE | os.O_WRONLY
	if resume != nil {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return Result{BytesWritten: startOffset, Validator: validator}, &retry.Error{Kind: retry.KindDiskIO, Cause: err}
	}
	defer f.Close()

	written := startOffset
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	for {
		select {
		case <-ctx.Done():
			return Result{BytesWritten: written, TotalBytes: total, Validator: validator}, ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return Result{BytesWritten: written, TotalBytes: total, Validator: validator},
					&retry.Error{Kind: classifyWriteErr(werr), Cause: werr}
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return Result{BytesWritten: written, TotalBytes: total, Validator: validator}, nil
			}
			return Result{BytesWritten: written, TotalBytes: total, Validator: validator},
				&retry.Error{Kind: retry.KindConnectionLost, Cause: readErr}
		}
	}
}

// responseValidator extracts the server's identity (ETag preferred,
// Last-Modified otherwise) using vfaronov/httpheader instead of
// hand-rolled header splitting.
func responseValidator(h http.Header) string {
	if etag, ok := httpheader.ETag(h); ok {
		return etag.Opaque
	}
	if lm, ok := httpheader.LastModified(h); ok {
		return lm.UTC().Format(http.TimeFormat)
	}
	return ""
}

// contentLength returns the number of bytes the response body will
// deliver, handling both a plain 200 and a 206 Content-Range response.
// Content-Range is parsed manually since it is a single
// trailing-integer split, not worth a dependency call.
func contentLength(resp *http.Response) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx != -1 {
			if size, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return size - rangeStart(cr)
			}
		}
	}
	if cl := resp.ContentLength; cl >= 0 {
		return cl
	}
	return 0
}

func rangeStart(contentRange string) int64 {
	// "bytes 500-999/1234" -> 500
	rest := strings.TrimPrefix(contentRange, "bytes ")
	dash := strings.Index(rest, "-")
	if dash == -1 {
		return 0
	}
	start, err := strconv.ParseInt(rest[:dash], 10, 64)
	if err != nil {
		return 0
	}
	return start
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &retry.Error{Kind: retry.KindNetworkUnavailable, Cause: err}
	}
	return &retry.Error{Kind: retry.KindConnectionLost, Cause: err}
}

func classifyWriteErr(err error) retry.Kind {
	if errors.Is(err, os.ErrPermission) {
		return retry.KindDiskIO
	}
	return retry.KindDiskIO
}
