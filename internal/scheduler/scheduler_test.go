package scheduler

import (
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func TestNodeScore_LowerLoadScoresBetter(t *testing.T) {
	idle := model.Node{CPUPercent: 5, MemoryPercent: 10, CurrentLoad: 0}
	busy := model.Node{CPUPercent: 90, MemoryPercent: 85, CurrentLoad: 9}

	weight := model.PriorityWeight[model.PriorityNormal]
	if nodeScore(idle, weight) >= nodeScore(busy, weight) {
		t.Error("idle node should score lower (better) than a busy node")
	}
}

func TestNodeScore_HigherPriorityWeightLowersScore(t *testing.T) {
	n := model.Node{CPUPercent: 50, MemoryPercent: 50, CurrentLoad: 5}

	normal := nodeScore(n, model.PriorityWeight[model.PriorityNormal])
	urgent := nodeScore(n, model.PriorityWeight[model.PriorityUrgent])

	if urgent >= normal {
		t.Error("an urgent task's priority weight should divide the score down relative to normal")
	}
}

func TestNodeScore_WorkerScoreClampsAtZero(t *testing.T) {
	overloaded := model.Node{CPUPercent: 10, MemoryPercent: 10, CurrentLoad: 50}
	weight := model.PriorityWeight[model.PriorityNormal]
	got := nodeScore(overloaded, weight)
	// worker_score term should clamp to 0, not go negative.
	want := (0.1*0.4 + 0.1*0.4 + 0*0.2) / weight
	if got != want {
		t.Errorf("nodeScore = %f, want %f", got, want)
	}
}

func TestHasCapability(t *testing.T) {
	n := model.Node{Capabilities: []string{"document_processing", "batch_vectorization"}}
	if !hasCapability(n, "document_processing") {
		t.Error("expected capability match")
	}
	if hasCapability(n, "thumbnail_generation") {
		t.Error("expected no capability match")
	}
}

func TestSelectOptimalNode_FiltersByCapabilityAndPicksLowestScore(t *testing.T) {
	task := &model.DistributedTask{TaskType: "document_processing", Priority: model.PriorityNormal}

	incapable := model.Node{NodeID: "n1", Capabilities: []string{"thumbnail_generation"}, CPUPercent: 1}
	busy := model.Node{NodeID: "n2", Capabilities: []string{"document_processing"}, CPUPercent: 90, MemoryPercent: 90, CurrentLoad: 10}
	idle := model.Node{NodeID: "n3", Capabilities: []string{"document_processing"}, CPUPercent: 5, MemoryPercent: 5, CurrentLoad: 0}

	got := selectOptimalNode(task, []model.Node{incapable, busy, idle})
	if got == nil {
		t.Fatal("expected a node to be selected")
	}
	if got.NodeID != "n3" {
		t.Errorf("selected node = %s, want n3 (the idle, capable one)", got.NodeID)
	}
}

func TestSelectOptimalNode_NoCapableNodeReturnsNil(t *testing.T) {
	task := &model.DistributedTask{TaskType: "document_processing", Priority: model.PriorityNormal}
	nodes := []model.Node{{NodeID: "n1", Capabilities: []string{"thumbnail_generation"}}}

	if got := selectOptimalNode(task, nodes); got != nil {
		t.Errorf("expected nil, got node %s", got.NodeID)
	}
}
