// Package noderegistry tracks which process nodes are alive and what
// they can do (C11). Grounded on
// original_source/project/routers/knowledge/distributed_processing.py's
// NodeManager: a Redis set of active node IDs plus one hash per node,
// with nodes silently dropped once their heartbeat is more than two
// minutes stale.
package noderegistry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const (
	activeNodesKey  = "active_nodes"
	nodeKeyPrefix   = "nodes:"
	heartbeatGrace  = 2 * time.Minute
	heartbeatPeriod = 30 * time.Second
)

// Registry is the Redis-backed node registry.
type Registry struct {
	rdb *redis.Client
}

// New creates a Registry bound to an existing Redis client.
func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Register records a node as active and adds it to the active set.
func (r *Registry) Register(ctx context.Context, node *model.Node) error {
	if node.RegisteredAt.IsZero() {
		node.RegisteredAt = time.Now().UTC()
	}
	node.LastHeartbeat = time.Now().UTC()

	if err := r.rdb.HSet(ctx, nodeKeyPrefix+node.NodeID, nodeToMap(node)).Err(); err != nil {
		return fmt.Errorf("noderegistry.Register: %w", err)
	}
	if err := r.rdb.SAdd(ctx, activeNodesKey, node.NodeID).Err(); err != nil {
		return fmt.Errorf("noderegistry.Register: sadd: %w", err)
	}
	return nil
}

// Unregister removes a node from the active set and deletes its hash.
func (r *Registry) Unregister(ctx context.Context, nodeID string) error {
	if err := r.rdb.SRem(ctx, activeNodesKey, nodeID).Err(); err != nil {
		return fmt.Errorf("noderegistry.Unregister: %w", err)
	}
	if err := r.rdb.Del(ctx, nodeKeyPrefix+nodeID).Err(); err != nil {
		return fmt.Errorf("noderegistry.Unregister: %w", err)
	}
	return nil
}

// Heartbeat refreshes a node's load/resource metrics and timestamp.
func (r *Registry) Heartbeat(ctx context.Context, nodeID string, cpuPercent, memPercent float64, currentLoad int) error {
	err := r.rdb.HSet(ctx, nodeKeyPrefix+nodeID, map[string]interface{}{
		"cpu_percent":    strconv.FormatFloat(cpuPercent, 'f', -1, 64),
		"memory_percent": strconv.FormatFloat(memPercent, 'f', -1, 64),
		"current_load":   currentLoad,
		"last_heartbeat": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("noderegistry.Heartbeat: %w", err)
	}
	return nil
}

// ActiveNodes returns every node whose heartbeat is still within the
// grace window, pruning any that have gone stale as it scans (matching
// NodeManager.get_active_nodes's lazy-eviction behavior).
func (r *Registry) ActiveNodes(ctx context.Context) ([]model.Node, error) {
	ids, err := r.rdb.SMembers(ctx, activeNodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("noderegistry.ActiveNodes: %w", err)
	}

	now := time.Now().UTC()
	var nodes []model.Node
	for _, id := range ids {
		m, err := r.rdb.HGetAll(ctx, nodeKeyPrefix+id).Result()
		if err != nil || len(m) == 0 {
			_ = r.rdb.SRem(ctx, activeNodesKey, id).Err()
			continue
		}
		node := nodeFromMap(m)
		if now.Sub(node.LastHeartbeat) > heartbeatGrace {
			_ = r.rdb.SRem(ctx, activeNodesKey, id).Err()
			_ = r.rdb.Del(ctx, nodeKeyPrefix+id).Err()
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// RunHeartbeatLoop sends a heartbeat every heartbeatPeriod until ctx is
// cancelled. sample reports the node's current CPU%, memory%, and
// in-flight task count. Intended to run as a single supervisor
// goroutine started from cmd/server or cmd/worker's main, matching the
// teacher's graceful-shutdown-by-context-cancellation shape.
func (r *Registry) RunHeartbeatLoop(ctx context.Context, nodeID string, sample func() (cpuPercent, memPercent float64, load int)) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpu, mem, load := sample()
			_ = r.Heartbeat(ctx, nodeID, cpu, mem, load)
		}
	}
}

func nodeToMap(n *model.Node) map[string]interface{} {
	return map[string]interface{}{
		"node_id":        n.NodeID,
		"role":           string(n.Role),
		"host":           n.Host,
		"port":           n.Port,
		"capabilities":   joinCapabilities(n.Capabilities),
		"max_concurrent": n.MaxConcurrent,
		"current_load":   n.CurrentLoad,
		"cpu_percent":    strconv.FormatFloat(n.CPUPercent, 'f', -1, 64),
		"memory_percent": strconv.FormatFloat(n.MemoryPercent, 'f', -1, 64),
		"last_heartbeat": n.LastHeartbeat.Format(time.RFC3339Nano),
		"registered_at":  n.RegisteredAt.Format(time.RFC3339Nano),
	}
}

func nodeFromMap(m map[string]string) model.Node {
	n := model.Node{
		NodeID:        m["node_id"],
		Role:          model.NodeRole(m["role"]),
		Host:          m["host"],
		Port:          atoiOr(m["port"], 0),
		Capabilities:  splitCapabilities(m["capabilities"]),
		MaxConcurrent: atoiOr(m["max_concurrent"], 1),
		CurrentLoad:   atoiOr(m["current_load"], 0),
	}
	n.CPUPercent, _ = strconv.ParseFloat(m["cpu_percent"], 64)
	n.MemoryPercent, _ = strconv.ParseFloat(m["memory_percent"], 64)
	if v, err := time.Parse(time.RFC3339Nano, m["last_heartbeat"]); err == nil {
		n.LastHeartbeat = v
	}
	if v, err := time.Parse(time.RFC3339Nano, m["registered_at"]); err == nil {
		n.RegisteredAt = v
	}
	return n
}

func joinCapabilities(caps []string) string {
	out := ""
	for i, c := range caps {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
