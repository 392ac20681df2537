// Package clockdrift implements the optional startup clock-drift probe
// described in spec.md §5: an HTTP HEAD request against an external time
// source, comparing the response's Date header against local wall-clock
// time. Drift never alters scheduling; it is purely a diagnostic.
package clockdrift

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultThreshold matches spec.md §5's CLOCK_DRIFT_THRESHOLD default.
const DefaultThreshold = 250 * time.Millisecond

// Prober measures drift against a single external URL.
type Prober struct {
	Client    *http.Client
	URL       string
	Threshold time.Duration
}

// NewProber returns a Prober with a short timeout, since this probe must
// never meaningfully delay process start.
func NewProber(url string) *Prober {
	return &Prober{
		Client:    &http.Client{Timeout: 3 * time.Second},
		URL:       url,
		Threshold: DefaultThreshold,
	}
}

// Probe issues a HEAD request to p.URL and returns the observed drift
// (local time minus the remote Date header, after subtracting estimated
// round-trip latency by halving it). A non-nil error means the probe
// itself failed; it does not indicate drift.
func (p *Prober) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("clockdrift: build request: %w", err)
	}

	sent := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("clockdrift: probe %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	rtt := time.Since(sent)

	dateHdr := resp.Header.Get("Date")
	if dateHdr == "" {
		return 0, fmt.Errorf("clockdrift: probe %s: no Date header in response", p.URL)
	}
	remote, err := http.ParseTime(dateHdr)
	if err != nil {
		return 0, fmt.Errorf("clockdrift: parse Date header %q: %w", dateHdr, err)
	}

	// remote is an estimate of local-arrival time at the server, half an
	// RTT after sent; compare against our own clock at that same instant.
	localAtArrival := sent.Add(rtt / 2)
	return localAtArrival.Sub(remote), nil
}

// ProbeAndLog runs Probe once and logs a warning if the observed drift
// exceeds p.Threshold (or DefaultThreshold if unset). The returned bool
// reports whether the probe itself succeeded; a failed probe is logged and
// its drift is zero, matching spec.md's "drift never alters scheduling" —
// callers never treat a probe failure as fatal.
func (p *Prober) ProbeAndLog(ctx context.Context, logger *slog.Logger) (time.Duration, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	drift, err := p.Probe(ctx)
	if err != nil {
		logger.Warn("clock drift probe failed", "url", p.URL, "error", err)
		return 0, false
	}

	abs := drift
	if abs < 0 {
		abs = -abs
	}
	if abs > threshold {
		logger.Warn("clock drift exceeds threshold", "url", p.URL, "drift_ms", drift.Milliseconds(), "threshold_ms", threshold.Milliseconds())
		return drift, true
	}
	logger.Debug("clock drift within threshold", "url", p.URL, "drift_ms", drift.Milliseconds())
	return drift, true
}
