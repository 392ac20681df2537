// Package dispatch implements the peer-dispatch transport adapter of
// spec.md §4.6: a fire-and-forget submission of a sub-script to another
// worker, timed to land timeBufferInMilliseconds before the chunk's
// nominal start.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loadmesh/loadmesh/pkg/script"
)

// Target identifies a peer worker to dispatch to.
type Target struct {
	// Address is the peer's base URL; "/v1/peer-invoke" is appended to it.
	Address string
	// Generation is the stage/environment identifier a peer must match,
	// per spec.md §6 "Runtime ambient" — routing stays within one
	// deployment generation.
	Generation string
}

// Transport submits event to target, to be executed after delay
// (immediately if delay<=0). It must invoke callback exactly once, as soon
// as submission completes — not when the peer finishes running the
// sub-script. Submission failure is fatal for this sub-tree and is
// reported through callback, never retried: spec.md §1 and §7 treat the
// transport as best-effort, at-least-once, with its own retries disabled.
type Transport interface {
	Dispatch(ctx context.Context, delay time.Duration, target Target, event *script.Script, callback func(error))
}

// HTTPTransport POSTs the event to target.Address + "/v1/peer-invoke".
// Grounded in the teacher's pkg/engine/dispatcher.go webhook delivery (same
// *http.Client-with-timeout, JSON body, descriptive headers shape) but with
// the teacher's retry/backoff loop removed, since this transport's retries
// are assumed disabled by spec.md's contract.
type HTTPTransport struct {
	Client *http.Client
}

const defaultTimeout = 10 * time.Second

// NewHTTPTransport returns a Transport with a sane default client timeout.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: defaultTimeout}}
}

func (t *HTTPTransport) Dispatch(ctx context.Context, delay time.Duration, target Target, event *script.Script, callback func(error)) {
	fire := func() {
		if err := t.submit(ctx, target, event); err != nil {
			callback(fmt.Errorf("dispatch: submission to %s failed: %w", target.Address, err))
			return
		}
		callback(nil)
	}

	if delay <= 0 {
		go fire()
		return
	}
	timer := time.AfterFunc(delay, fire)
	go func() {
		select {
		case <-ctx.Done():
			// Only report cancellation if the timer had not already
			// fired; otherwise fire() owns the single callback.
			if timer.Stop() {
				callback(fmt.Errorf("dispatch: context canceled before submission to %s", target.Address))
			}
		case <-time.After(delay):
			// Timer already fires fire(); nothing to do here but let
			// the goroutine exit once the dispatch has been handed
			// off.
		}
	}()
}

func (t *HTTPTransport) submit(ctx context.Context, target Target, event *script.Script) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sub-script: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Address+"/v1/peer-invoke", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "loadmesh-dispatch/1.0")
	req.Header.Set("X-Loadmesh-Generation", target.Generation)

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("peer responded with status %d", resp.StatusCode)
	}
	return nil
}
