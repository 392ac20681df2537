package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/loadmesh/loadmesh/pkg/script"
)

func f(v float64) *float64 { return &v }

func TestHTTPTransportDispatchSuccess(t *testing.T) {
	var gotBody script.Script
	var gotGeneration string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGeneration = r.Header.Get("X-Loadmesh-Generation")
		w.WriteHeader(http.StatusAccepted)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	event := &script.Script{Config: script.Config{Phases: []script.Phase{{ArrivalRate: f(5), Duration: f(10)}}}}

	var wg sync.WaitGroup
	wg.Add(1)
	var callbackErr error
	tr.Dispatch(context.Background(), 0, Target{Address: srv.URL, Generation: "gen-1"}, event, func(err error) {
		callbackErr = err
		wg.Done()
	})
	wg.Wait()

	if callbackErr != nil {
		t.Fatalf("unexpected callback error: %v", callbackErr)
	}
	if gotGeneration != "gen-1" {
		t.Fatalf("generation header = %q, want gen-1", gotGeneration)
	}
	_ = gotBody
}

func TestHTTPTransportDispatchFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	event := &script.Script{Config: script.Config{Phases: []script.Phase{{Pause: f(1)}}}}

	var wg sync.WaitGroup
	wg.Add(1)
	var callbackErr error
	tr.Dispatch(context.Background(), 0, Target{Address: srv.URL}, event, func(err error) {
		callbackErr = err
		wg.Done()
	})
	wg.Wait()

	if callbackErr == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestHTTPTransportDispatchDelay(t *testing.T) {
	var fired time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fired = time.Now()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	event := &script.Script{Config: script.Config{Phases: []script.Phase{{Pause: f(1)}}}}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(1)
	tr.Dispatch(context.Background(), 150*time.Millisecond, Target{Address: srv.URL}, event, func(error) {
		wg.Done()
	})
	wg.Wait()

	if fired.Sub(start) < 100*time.Millisecond {
		t.Fatalf("dispatch fired too early: %v after start", fired.Sub(start))
	}
}

func TestHTTPTransportDispatchContextCanceledBeforeDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	event := &script.Script{Config: script.Config{Phases: []script.Phase{{Pause: f(1)}}}}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var callbackErr error
	tr.Dispatch(ctx, 500*time.Millisecond, Target{Address: srv.URL}, event, func(err error) {
		callbackErr = err
		wg.Done()
	})
	cancel()
	wg.Wait()

	if callbackErr == nil {
		t.Fatal("expected error after context cancellation")
	}
}
