package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loadmesh/loadmesh/pkg/audit"
	"github.com/loadmesh/loadmesh/pkg/clockdrift"
	"github.com/loadmesh/loadmesh/pkg/dispatch"
	"github.com/loadmesh/loadmesh/pkg/meshmetrics"
	"github.com/loadmesh/loadmesh/pkg/meshserver"
	"github.com/loadmesh/loadmesh/pkg/meshstate"
	"github.com/loadmesh/loadmesh/pkg/orchestrator"
	"github.com/loadmesh/loadmesh/pkg/runner"
	"github.com/loadmesh/loadmesh/pkg/script"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open audit database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer auditLog.Close()
	logger.Info("audit database opened", "path", cfg.DBPath)

	if cfg.ClockDriftURL != "" {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		drift, ok := clockdrift.NewProber(cfg.ClockDriftURL).ProbeAndLog(probeCtx, logger)
		cancel()
		if ok {
			meshmetrics.ClockDriftMilliseconds.Set(float64(drift.Milliseconds()))
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	coordinator := meshstate.NewCoordinator(redisClient, logger)
	registry := meshstate.NewRegistry(redisClient)

	selfAddr := "http://" + cfg.Addr
	if err := registry.Advertise(context.Background(), meshstate.PeerInfo{
		Address:    selfAddr,
		Generation: cfg.Generation,
	}, 60*time.Second); err != nil {
		logger.Warn("failed to advertise into peer registry", "error", err)
	}
	go advertiseLoop(registry, selfAddr, cfg.Generation, logger)

	deps := orchestrator.Dependencies{
		Transport:   dispatch.NewHTTPTransport(),
		Engine:      &runner.VirtualUserEngine{Concurrency: cfg.Concurrency},
		Generation:  cfg.Generation,
		Logger:      logger,
		Metrics:     meshmetrics.Recorder{Generation: cfg.Generation},
		Audit:       auditLog,
		Coordinator: coordinator,
		PeerTarget: func(ctx context.Context, s *script.Script) (target dispatch.Target) {
			t, err := registry.Target(ctx, cfg.Generation)
			if err != nil {
				logger.Warn("no mesh peer available, dispatching to self", "error", err)
				return dispatch.Target{Address: selfAddr, Generation: cfg.Generation}
			}
			return t
		},
		VirtualUser: vuFor(cfg.TargetURL),
	}

	srv := meshserver.NewServer(cfg.Addr, auditLog, deps, logger)

	go func() {
		logger.Info("loadmeshd listening", "addr", cfg.Addr, "generation", cfg.Generation)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", "error", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("shutdown initiated", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// advertiseLoop keeps this worker's peer-registry entry alive, re-issuing
// Advertise before its TTL expires, matching the teacher's election.go
// heartbeat-renewal cadence.
func advertiseLoop(registry *meshstate.Registry, addr, generation string, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := registry.Advertise(context.Background(), meshstate.PeerInfo{
			Address:    addr,
			Generation: generation,
		}, 60*time.Second); err != nil {
			logger.Warn("failed to renew peer advertisement", "error", err)
		}
	}
}

// vuFor builds the virtual-user function arrivals execute against. An empty
// targetURL yields a no-op VU, matching the orchestrator's own
// target-agnostic default — useful for dry runs where only the split/
// dispatch tree is being exercised, not real traffic.
func vuFor(targetURL string) runner.VirtualUserFunc {
	if targetURL == "" {
		return func(ctx context.Context) error { return nil }
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("target responded with status %d", resp.StatusCode)
		}
		return nil
	}
}
