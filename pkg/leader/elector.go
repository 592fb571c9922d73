// Package leader implements redis lease-based leader election. Exactly one
// replica holds the lease at a time; only the leader runs the periodic
// reconciliation jobs. Losing the lease demotes the replica immediately so
// two schedulers never run concurrently.
package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"simfleet/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// State is the elector's position in the Standby/Campaigning/Leader machine.
type State string

const (
	StateStandby     State = "STANDBY"
	StateCampaigning State = "CAMPAIGNING"
	StateLeader      State = "LEADER"
)

// Lua scripts guard against touching a lease owned by another replica.
const (
	renewScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	releaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
)

// Elector campaigns for a redis lease key and keeps it refreshed at TTL/3
// while leading. A nil redis client degrades to permanent single-instance
// leadership.
type Elector struct {
	client *redis.Client
	key    string
	id     string // unique per replica, prevents releasing a peer's lease
	ttl    time.Duration

	mu    sync.Mutex
	state State
}

// NewElector creates an elector for the given lease key and TTL.
func NewElector(client *redis.Client, key string, ttl time.Duration) *Elector {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Elector{
		client: client,
		key:    key,
		id:     uuid.NewString(),
		ttl:    ttl,
		state:  StateStandby,
	}
}

// State returns the current election state.
func (e *Elector) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsLeader reports whether this replica currently holds the lease.
func (e *Elector) IsLeader() bool {
	return e.State() == StateLeader
}

func (e *Elector) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run drives the campaign/renew loop until ctx is cancelled. On clean
// shutdown the lease is explicitly revoked so a standby can take over
// without waiting for expiry.
func (e *Elector) Run(ctx context.Context) {
	if e.client == nil {
		logger.Warn("redis client is nil, assuming single-instance leadership")
		e.setState(StateLeader)
		<-ctx.Done()
		e.setState(StateStandby)
		return
	}

	interval := e.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.Resign(context.Background())
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick either renews an owned lease or campaigns for a free one.
func (e *Elector) tick(ctx context.Context) {
	if e.State() == StateLeader {
		if !e.renew(ctx) {
			logger.WarnCtx(ctx, "leader lease %s lost, reverting to standby", e.key)
			e.setState(StateStandby)
		}
		return
	}

	e.setState(StateCampaigning)
	acquired, err := e.client.SetNX(ctx, e.key, e.id, e.ttl).Result()
	if err != nil {
		logger.WarnCtx(ctx, "leader campaign for %s failed: %v", e.key, err)
		e.setState(StateStandby)
		return
	}
	if acquired {
		logger.InfoCtx(ctx, "acquired leader lease %s", e.key)
		e.setState(StateLeader)
		return
	}
	e.setState(StateStandby)
}

func (e *Elector) renew(ctx context.Context) bool {
	result, err := e.client.Eval(ctx, renewScript, []string{e.key}, e.id, int(e.ttl.Seconds())).Result()
	if err != nil {
		logger.WarnCtx(ctx, "failed to renew leader lease %s: %v", e.key, err)
		return false
	}
	n, ok := result.(int64)
	return ok && n == 1
}

// Resign releases the lease if this replica owns it.
func (e *Elector) Resign(ctx context.Context) error {
	if e.client == nil {
		e.setState(StateStandby)
		return nil
	}
	if e.State() != StateLeader {
		return nil
	}
	e.setState(StateStandby)

	result, err := e.client.Eval(ctx, releaseScript, []string{e.key}, e.id).Result()
	if err != nil {
		return fmt.Errorf("failed to release leader lease: %w", err)
	}
	if n, ok := result.(int64); ok && n == 1 {
		logger.InfoCtx(ctx, "released leader lease %s", e.key)
	}
	return nil
}
