// Package scheduler is the distributed job queue's coordinator (C12):
// a single ticking goroutine that assigns pending tasks to the
// least-loaded capable node, retries failed dispatches, times out
// stuck tasks, and garbage-collects old terminal ones. Grounded
// idiom-for-idiom on
// original_source/project/routers/knowledge/distributed_processing.py's
// DistributedTaskQueue._coordinator_loop/LoadBalancer.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/noderegistry"
	"github.com/connexus-ai/ragbox-backend/internal/queue"
)

const (
	tickInterval      = 5 * time.Second
	maxAssignPerTick  = 10
	retentionForTasks = 24 * time.Hour
)

// Scheduler is the coordinator loop. Lease.RunWithLease (lease.go) runs
// it only while this process holds the Redis coordinator lock; cmd/server
// starts it that way on coordinator and hybrid nodes.
type Scheduler struct {
	queue      *queue.Queue
	registry   *noderegistry.Registry
	httpClient *http.Client
}

// New creates a Scheduler.
func New(q *queue.Queue, registry *noderegistry.Registry) *Scheduler {
	return &Scheduler{
		queue:      q,
		registry:   registry,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run ticks every 5 seconds until ctx is cancelled, matching the
// teacher's context-cancellation shutdown shape used throughout
// cmd/server's run().
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.assignPending(ctx); err != nil {
		return fmt.Errorf("scheduler.tick: assign: %w", err)
	}
	if err := s.checkTimeouts(ctx); err != nil {
		return fmt.Errorf("scheduler.tick: timeouts: %w", err)
	}
	if err := s.cleanupCompleted(ctx); err != nil {
		return fmt.Errorf("scheduler.tick: cleanup: %w", err)
	}
	return nil
}

func (s *Scheduler) assignPending(ctx context.Context) error {
	ids, err := s.queue.PopPending(ctx, maxAssignPerTick)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	nodes, err := s.registry.ActiveNodes(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		task, err := s.queue.GetStatus(ctx, id)
		if err != nil {
			_ = s.queue.RemovePending(ctx, id)
			continue
		}

		ok, err := s.dependenciesSatisfied(ctx, task)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		node := selectOptimalNode(task, nodes)
		if node == nil {
			continue
		}

		task.Status = model.TaskAssigned
		task.AssignedNode = &node.NodeID
		if err := s.queue.SaveTask(ctx, task); err != nil {
			return err
		}
		if err := s.queue.RemovePending(ctx, id); err != nil {
			return err
		}

		s.notifyWorker(ctx, node, task)
	}
	return nil
}

func (s *Scheduler) dependenciesSatisfied(ctx context.Context, task *model.DistributedTask) (bool, error) {
	for _, depID := range task.Dependencies {
		dep, err := s.queue.GetStatus(ctx, depID)
		if err != nil || dep.Status != model.TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}

// selectOptimalNode scores every capable, online node with
// 0.4*cpu + 0.4*mem + 0.2*(1 - load/10), divided by the task's
// priority weight, and returns the lowest-scoring node.
func selectOptimalNode(task *model.DistributedTask, nodes []model.Node) *model.Node {
	var capable []model.Node
	for _, n := range nodes {
		if hasCapability(n, task.TaskType) {
			capable = append(capable, n)
		}
	}
	if len(capable) == 0 {
		return nil
	}

	weight := model.PriorityWeight[task.Priority]
	if weight == 0 {
		weight = model.PriorityWeight[model.PriorityNormal]
	}

	sort.Slice(capable, func(i, j int) bool {
		return nodeScore(capable[i], weight) < nodeScore(capable[j], weight)
	})
	return &capable[0]
}

func nodeScore(n model.Node, priorityWeight float64) float64 {
	cpuScore := n.CPUPercent / 100.0
	memScore := n.MemoryPercent / 100.0
	workerScore := 1 - float64(n.CurrentLoad)/10.0
	if workerScore < 0 {
		workerScore = 0
	}
	base := cpuScore*0.4 + memScore*0.4 + workerScore*0.2
	return base / priorityWeight
}

func hasCapability(n model.Node, taskType string) bool {
	for _, c := range n.Capabilities {
		if c == taskType {
			return true
		}
	}
	return false
}

func (s *Scheduler) notifyWorker(ctx context.Context, node *model.Node, task *model.DistributedTask) {
	body, err := json.Marshal(task)
	if err != nil {
		slog.Error("scheduler: marshal task for worker notify", "task_id", task.TaskID, "error", err)
		return
	}

	url := fmt.Sprintf("http://%s:%d/api/worker/execute", node.Host, node.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		slog.Warn("scheduler: worker notify failed, requeuing", "task_id", task.TaskID, "node", node.NodeID, "error", err)
		_ = s.queue.Requeue(ctx, task.TaskID, model.PriorityNormal)
		return
	}
	defer resp.Body.Close()
}

func (s *Scheduler) checkTimeouts(ctx context.Context) error {
	keys, err := s.queue.AllTaskKeys(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, key := range keys {
		taskID := key[len("task:"):]
		task, err := s.queue.GetStatus(ctx, taskID)
		if err != nil {
			continue
		}
		if task.Status != model.TaskAssigned && task.Status != model.TaskProcessing {
			continue
		}
		if task.StartedAt == nil {
			continue
		}
		timeout := time.Duration(task.TimeoutSeconds) * time.Second
		if now.Sub(*task.StartedAt) <= timeout {
			continue
		}
		if err := s.handleTimeout(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) handleTimeout(ctx context.Context, task *model.DistributedTask) error {
	if task.RetryCount < task.MaxRetries {
		task.Status = model.TaskPending
		task.RetryCount++
		task.AssignedNode = nil
		task.StartedAt = nil
		msg := fmt.Sprintf("timeout after %ds", task.TimeoutSeconds)
		task.Error = &msg
		if err := s.queue.SaveTask(ctx, task); err != nil {
			return err
		}
		return s.queue.Requeue(ctx, task.TaskID, model.PriorityNormal)
	}

	task.Status = model.TaskFailed
	msg := fmt.Sprintf("exceeded max retries (%d) after timeout", task.MaxRetries)
	task.Error = &msg
	return s.queue.SaveTask(ctx, task)
}

func (s *Scheduler) cleanupCompleted(ctx context.Context) error {
	keys, err := s.queue.AllTaskKeys(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-retentionForTasks)

	for _, key := range keys {
		taskID := key[len("task:"):]
		task, err := s.queue.GetStatus(ctx, taskID)
		if err != nil {
			continue
		}
		if task.Status != model.TaskCompleted && task.Status != model.TaskFailed {
			continue
		}
		if task.CompletedAt == nil || task.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.queue.DeleteTask(ctx, taskID); err != nil {
			return err
		}
	}
	return nil
}
