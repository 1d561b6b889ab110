package relay

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
)

// The two accepted transport shapes for a relay source.
var (
	rtmpPattern = regexp.MustCompile(`^rtmps?://.+`)
	hlsPattern  = regexp.MustCompile(`^https?://.+\.m3u8(\?.*)?$`)
)

// unsafeChars rejects characters that could escape the single-quoted command
// construction on the remote host.
var unsafeChars = regexp.MustCompile("['`$\\\\]")

// ValidateSourceURL checks that the source looks like RTMP or HLS and carries
// nothing that could break out of the remote command line.
func ValidateSourceURL(url string) error {
	if url == "" {
		return &job.ValidationError{Field: "relay url", Reason: "url is required"}
	}

	if unsafeChars.MatchString(url) {
		return &job.ValidationError{Field: "relay url", Reason: "contains unsafe characters"}
	}

	if !rtmpPattern.MatchString(url) && !hlsPattern.MatchString(url) {
		return &job.ValidationError{Field: "relay url", Reason: "must be rtmp(s):// or an http(s) .m3u8 address"}
	}

	return nil
}

// ProbeHLS issues a HEAD request against an HLS source. The probe is
// advisory: network flakiness must not block a start attempt, so only a
// definitive non-2xx answer is reported.
func ProbeHLS(ctx context.Context, url string, timeout time.Duration) error {
	if !hlsPattern.MatchString(url) {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn("hls reachability probe inconclusive", "url", url, "err", err)

		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &job.ValidationError{Field: "relay url", Reason: "source appears to be offline"}
	}

	return nil
}
