// Package meshstate provides Redis-backed coordination for the mesh: a
// cross-process completion counter (for chunks dispatched to a distinct
// worker process) and a peer registry workers advertise themselves into.
// Grounded in the teacher's pkg/store/redis (RedisLeaseStore's Lua-script
// CAS pattern, RedisUsageStore's SAdd/SMembers set pattern) but re-keyed
// and re-shaped for run/chunk completion tracking instead of lease
// ownership and pool-state caching.
package meshstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loadmesh/loadmesh/pkg/dispatch"
)

const (
	runsSetKey   = "loadmesh:runs"
	peersSetKey  = "loadmesh:peers"
	defaultTTL   = 24 * time.Hour
)

// Coordinator tracks a run's outstanding completion count in Redis, so
// that a chunk dispatched to a distinct worker process can decrement the
// same counter the dispatching process is watching. It satisfies
// orchestrator.Coordinator.
type Coordinator struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCoordinator wraps an existing Redis client.
func NewCoordinator(client *redis.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{client: client, logger: logger}
}

func runKey(runID string) string { return fmt.Sprintf("loadmesh:run:%s:toComplete", runID) }

// Register initializes the completion counter for runID at n and records
// the run in the global runs set, which ActiveRuns lists.
func (c *Coordinator) Register(ctx context.Context, runID string, n int) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, runKey(runID), n, defaultTTL)
	pipe.SAdd(ctx, runsSetKey, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("meshstate: register run %s: %w", runID, err)
	}
	return nil
}

// completeScript atomically decrements the counter and reports the value
// after decrement, the same CAS-via-Lua discipline the teacher's lease
// renew/release scripts use to avoid a read-then-write race across
// processes.
const completeScript = `
local remaining = redis.call("DECR", KEYS[1])
return remaining
`

// Complete decrements runID's counter and returns the remaining count.
// Remaining <= 0 means the run's dispatch tree has fully drained.
func (c *Coordinator) Complete(ctx context.Context, runID string) (int, error) {
	res, err := c.client.Eval(ctx, completeScript, []string{runKey(runID)}).Result()
	if err != nil {
		return 0, fmt.Errorf("meshstate: complete run %s: %w", runID, err)
	}
	remaining, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("meshstate: unexpected completion script result type %T", res)
	}
	if remaining <= 0 {
		pipe := c.client.TxPipeline()
		pipe.Del(ctx, runKey(runID))
		pipe.SRem(ctx, runsSetKey, runID)
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("meshstate: cleanup after drain failed", "run_id", runID, "error", err)
		}
	}
	return int(remaining), nil
}

// ActiveRuns lists run IDs with an outstanding completion counter.
func (c *Coordinator) ActiveRuns(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, runsSetKey).Result()
}

// PeerInfo is one worker's advertised identity within the mesh.
type PeerInfo struct {
	Address    string `json:"address"`
	Generation string `json:"generation"`
}

// Registry is a Redis-backed set of peer workers, mirroring the teacher's
// RedisUsageStore SAdd/SMembers/MGet pool-state pattern but storing peer
// addresses instead of rate-limit pool snapshots.
type Registry struct {
	client *redis.Client
}

func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

func peerKey(address string) string { return fmt.Sprintf("loadmesh:peer:%s", address) }

// Advertise registers this worker's address/generation with a heartbeat
// TTL; callers must call it periodically to stay listed.
func (r *Registry) Advertise(ctx context.Context, info PeerInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("meshstate: marshal peer info: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, peerKey(info.Address), data, ttl)
	pipe.SAdd(ctx, peersSetKey, info.Address)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("meshstate: advertise: %w", err)
	}
	return nil
}

// Peers returns every currently live peer of the given generation
// (all generations if generation is empty).
func (r *Registry) Peers(ctx context.Context, generation string) ([]PeerInfo, error) {
	addrs, err := r.client.SMembers(ctx, peersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("meshstate: list peer addresses: %w", err)
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = peerKey(a)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("meshstate: mget peers: %w", err)
	}

	var stale []string
	var peers []PeerInfo
	for i, v := range values {
		if v == nil {
			stale = append(stale, addrs[i])
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var info PeerInfo
		if err := json.Unmarshal([]byte(str), &info); err != nil {
			continue
		}
		if generation != "" && info.Generation != generation {
			continue
		}
		peers = append(peers, info)
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, peersSetKey, stale)
	}
	return peers, nil
}

// Target returns the first live peer of the wanted generation as listed by
// Peers, for use by PeerTarget hooks. It does not rotate among peers, and
// since Peers reads an unordered Redis set, which peer is first is not
// defined.
func (r *Registry) Target(ctx context.Context, generation string) (dispatch.Target, error) {
	peers, err := r.Peers(ctx, generation)
	if err != nil {
		return dispatch.Target{}, err
	}
	if len(peers) == 0 {
		return dispatch.Target{}, fmt.Errorf("meshstate: no live peers for generation %q", generation)
	}
	return dispatch.Target{Address: peers[0].Address, Generation: peers[0].Generation}, nil
}
