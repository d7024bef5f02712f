package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	coordinatorLockKey = "coordinator:lock"
	leaseTTL           = 15 * time.Second
	leaseRenewInterval = 5 * time.Second
)

// Lease is a minimal distributed lock ensuring only one process runs
// the coordinator loop at a time, per DESIGN.md's single-coordinator
// decision: a Redis NX/PX lease renewed on the same cadence as the
// coordinator tick.
type Lease struct {
	rdb    *redis.Client
	nodeID string
}

// NewLease creates a Lease identified by nodeID (the lock value, so a
// node can tell whether it still holds its own lease after a network
// partition).
func NewLease(rdb *redis.Client, nodeID string) *Lease {
	return &Lease{rdb: rdb, nodeID: nodeID}
}

// TryAcquire attempts to take the coordinator lock. Returns true if
// this node now holds it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, coordinatorLockKey, l.nodeID, leaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("scheduler.Lease.TryAcquire: %w", err)
	}
	return ok, nil
}

// RunWithLease starts the coordinator loop only while this node holds
// the lease, checking/renewing it every leaseRenewInterval, and
// stopping the loop (without releasing the lock) if the lease is lost
// to another node. Intended to be launched as a single goroutine from
// cmd/server's main.
func (l *Lease) RunWithLease(ctx context.Context, sched *Scheduler) {
	ticker := time.NewTicker(leaseRenewInterval)
	defer ticker.Stop()

	running := false
	var stopRun context.CancelFunc

	for {
		select {
		case <-ctx.Done():
			if stopRun != nil {
				stopRun()
			}
			return
		case <-ticker.C:
			held, err := l.renew(ctx)
			if err != nil {
				continue
			}
			switch {
			case held && !running:
				var runCtx context.Context
				runCtx, stopRun = context.WithCancel(ctx)
				go sched.Run(runCtx)
				running = true
			case !held && running:
				stopRun()
				running = false
			}
		}
	}
}

// renew extends the lease if this node already holds it, or takes it
// if it is free; returns whether this node holds the lease afterward.
func (l *Lease) renew(ctx context.Context) (bool, error) {
	val, err := l.rdb.Get(ctx, coordinatorLockKey).Result()
	if err == redis.Nil {
		return l.TryAcquire(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("scheduler.Lease.renew: %w", err)
	}
	if val != l.nodeID {
		return false, nil
	}
	if err := l.rdb.Expire(ctx, coordinatorLockKey, leaseTTL).Err(); err != nil {
		return false, fmt.Errorf("scheduler.Lease.renew: expire: %w", err)
	}
	return true, nil
}
