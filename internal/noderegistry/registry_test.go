package noderegistry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func setupRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	return New(rdb), func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	}
}

func TestRegistry_RegisterAndActiveNodes(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	node := &model.Node{
		NodeID:        "node-1",
		Role:          model.NodeRoleWorker,
		Host:          "127.0.0.1",
		Port:          9001,
		Capabilities:  []string{"document_processing", "batch_vectorization"},
		MaxConcurrent: 4,
	}
	if err := r.Register(ctx, node); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	nodes, err := r.ActiveNodes(ctx)
	if err != nil {
		t.Fatalf("ActiveNodes() error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].NodeID != "node-1" {
		t.Errorf("NodeID = %q, want node-1", nodes[0].NodeID)
	}
	if len(nodes[0].Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", nodes[0].Capabilities)
	}
}

func TestRegistry_Heartbeat_UpdatesLoad(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	node := &model.Node{NodeID: "node-2", Host: "127.0.0.1", Port: 9002, Capabilities: []string{"document_processing"}}
	if err := r.Register(ctx, node); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := r.Heartbeat(ctx, "node-2", 42.5, 60.1, 3); err != nil {
		t.Fatalf("Heartbeat() error: %v", err)
	}

	nodes, err := r.ActiveNodes(ctx)
	if err != nil {
		t.Fatalf("ActiveNodes() error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].CPUPercent != 42.5 {
		t.Errorf("CPUPercent = %f, want 42.5", nodes[0].CPUPercent)
	}
	if nodes[0].CurrentLoad != 3 {
		t.Errorf("CurrentLoad = %d, want 3", nodes[0].CurrentLoad)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	node := &model.Node{NodeID: "node-3", Host: "127.0.0.1", Port: 9003}
	r.Register(ctx, node)

	if err := r.Unregister(ctx, "node-3"); err != nil {
		t.Fatalf("Unregister() error: %v", err)
	}

	nodes, err := r.ActiveNodes(ctx)
	if err != nil {
		t.Fatalf("ActiveNodes() error: %v", err)
	}
	for _, n := range nodes {
		if n.NodeID == "node-3" {
			t.Error("unregistered node should not appear in ActiveNodes")
		}
	}
}

func TestRegistry_ActiveNodes_PrunesStaleHeartbeat(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	node := &model.Node{NodeID: "node-stale", Host: "127.0.0.1", Port: 9004}
	if err := r.Register(ctx, node); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// Force the stored heartbeat far enough in the past to exceed the
	// 2-minute grace window without waiting for real time to pass.
	stale := time.Now().UTC().Add(-3 * time.Minute).Format(time.RFC3339Nano)
	if err := r.rdb.HSet(ctx, nodeKeyPrefix+"node-stale", "last_heartbeat", stale).Err(); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}

	nodes, err := r.ActiveNodes(ctx)
	if err != nil {
		t.Fatalf("ActiveNodes() error: %v", err)
	}
	for _, n := range nodes {
		if n.NodeID == "node-stale" {
			t.Error("node with stale heartbeat should have been pruned")
		}
	}
}

func TestSplitJoinCapabilities(t *testing.T) {
	caps := []string{"document_processing", "batch_vectorization", "thumbnail_generation"}
	joined := joinCapabilities(caps)
	if joined != "document_processing,batch_vectorization,thumbnail_generation" {
		t.Errorf("joinCapabilities = %q", joined)
	}
	roundTrip := splitCapabilities(joined)
	if len(roundTrip) != 3 || roundTrip[1] != "batch_vectorization" {
		t.Errorf("splitCapabilities round trip = %v", roundTrip)
	}
}

func TestSplitCapabilities_Empty(t *testing.T) {
	if got := splitCapabilities(""); got != nil {
		t.Errorf("splitCapabilities(\"\") = %v, want nil", got)
	}
}
