// Package queue implements the distributed priority job queue (C10):
// a Redis sorted set of pending task IDs scored by priority, plus a
// Redis hash per task holding its full record. Grounded on
// original_source/project/routers/knowledge/distributed_processing.py's
// DistributedTaskQueue, translated from redis.asyncio calls into
// go-redis/v9 calls against the same key shapes (ZADD pending_tasks,
// HSET task:{id}).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const (
	pendingTasksKey = "pending_tasks"
	taskKeyPrefix   = "task:"
)

// priorityScore mirrors distributed_processing.py's flat integer
// ranking inside the ZSET (not the node-selection weight in
// model.PriorityWeight, which scores nodes, not queue order).
var priorityScore = map[model.TaskPriority]float64{
	model.PriorityLow:    1,
	model.PriorityNormal: 2,
	model.PriorityHigh:   3,
	model.PriorityUrgent: 4,
}

// Queue is the Redis-backed distributed task queue. It implements
// service.Enqueuer so document ingestion (and any other caller) can
// submit work without depending on internal/queue directly.
type Queue struct {
	rdb *redis.Client
}

// New creates a Queue bound to an existing Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue submits a new task and returns its generated ID. Satisfies
// service.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, taskType string, priority model.TaskPriority, data any) (string, error) {
	return q.Submit(ctx, &model.DistributedTask{
		TaskID:            uuid.New().String(),
		TaskType:          taskType,
		Priority:          priority,
		Status:            model.TaskPending,
		CreatedAt:         time.Now().UTC(),
		MaxRetries:        model.DefaultMaxRetries,
		TimeoutSeconds:    model.DefaultTaskTimeoutSeconds,
		EstimatedDuration: model.DefaultEstimatedDuration,
		Data:              mustMarshal(data),
	})
}

// Submit stores a fully-formed task and adds it to the pending queue.
func (q *Queue) Submit(ctx context.Context, task *model.DistributedTask) (string, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = model.TaskPending
	}

	if err := q.saveTask(ctx, task); err != nil {
		return "", fmt.Errorf("queue.Submit: %w", err)
	}

	score := priorityScore[task.Priority]
	if score == 0 {
		score = priorityScore[model.PriorityNormal]
	}
	if err := q.rdb.ZAdd(ctx, pendingTasksKey, redis.Z{Score: score, Member: task.TaskID}).Err(); err != nil {
		return "", fmt.Errorf("queue.Submit: zadd: %w", err)
	}
	return task.TaskID, nil
}

// GetStatus returns the current task record.
func (q *Queue) GetStatus(ctx context.Context, taskID string) (*model.DistributedTask, error) {
	m, err := q.rdb.HGetAll(ctx, taskKeyPrefix+taskID).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.GetStatus: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("queue.GetStatus: task %s not found", taskID)
	}
	return taskFromMap(m)
}

// Cancel marks a pending or assigned task as cancelled and removes it
// from the pending set.
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	key := taskKeyPrefix + taskID
	exists, err := q.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("queue.Cancel: %w", err)
	}
	if exists == 0 {
		return false, nil
	}
	if err := q.rdb.HSet(ctx, key, "status", string(model.TaskCancelled)).Err(); err != nil {
		return false, fmt.Errorf("queue.Cancel: %w", err)
	}
	if err := q.rdb.ZRem(ctx, pendingTasksKey, taskID).Err(); err != nil {
		return false, fmt.Errorf("queue.Cancel: zrem: %w", err)
	}
	return true, nil
}

// PopPending returns up to n highest-priority pending task IDs without
// removing them from the sorted set; the caller (the scheduler) removes
// each one explicitly once it has been assigned, so a coordinator crash
// mid-assignment leaves the task visible for the next tick rather than
// silently dropping it.
func (q *Queue) PopPending(ctx context.Context, n int64) ([]string, error) {
	ids, err := q.rdb.ZRevRange(ctx, pendingTasksKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.PopPending: %w", err)
	}
	return ids, nil
}

// RemovePending removes a task ID from the pending sorted set, e.g.
// once it has been assigned to a node.
func (q *Queue) RemovePending(ctx context.Context, taskID string) error {
	if err := q.rdb.ZRem(ctx, pendingTasksKey, taskID).Err(); err != nil {
		return fmt.Errorf("queue.RemovePending: %w", err)
	}
	return nil
}

// Requeue re-adds a task ID to the pending set at the given priority,
// used both for failed worker-POST retries and for timed-out tasks.
func (q *Queue) Requeue(ctx context.Context, taskID string, priority model.TaskPriority) error {
	score := priorityScore[priority]
	if score == 0 {
		score = priorityScore[model.PriorityNormal]
	}
	if err := q.rdb.ZAdd(ctx, pendingTasksKey, redis.Z{Score: score, Member: taskID}).Err(); err != nil {
		return fmt.Errorf("queue.Requeue: %w", err)
	}
	return nil
}

// SaveTask persists updated task fields (status transitions, results,
// retry bookkeeping) back to its hash.
func (q *Queue) SaveTask(ctx context.Context, task *model.DistributedTask) error {
	return q.saveTask(ctx, task)
}

func (q *Queue) saveTask(ctx context.Context, task *model.DistributedTask) error {
	if err := q.rdb.HSet(ctx, taskKeyPrefix+task.TaskID, taskToMap(task)).Err(); err != nil {
		return fmt.Errorf("queue.saveTask: %w", err)
	}
	return nil
}

// AllTaskKeys lists every task:* key for timeout-scanning and garbage
// collection. Uses SCAN rather than KEYS to avoid blocking Redis on a
// large task set.
func (q *Queue) AllTaskKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := q.rdb.Scan(ctx, 0, taskKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("queue.AllTaskKeys: %w", err)
	}
	return keys, nil
}

// DeleteTask removes a task hash outright (used by garbage collection).
func (q *Queue) DeleteTask(ctx context.Context, taskID string) error {
	if err := q.rdb.Del(ctx, taskKeyPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("queue.DeleteTask: %w", err)
	}
	return nil
}

func mustMarshal(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func taskToMap(t *model.DistributedTask) map[string]interface{} {
	assignedNode := ""
	if t.AssignedNode != nil {
		assignedNode = *t.AssignedNode
	}
	errStr := ""
	if t.Error != nil {
		errStr = *t.Error
	}
	startedAt := ""
	if t.StartedAt != nil {
		startedAt = t.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	completedAt := ""
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	data := string(t.Data)
	if data == "" {
		data = "{}"
	}
	result := string(t.Result)

	return map[string]interface{}{
		"task_id":            t.TaskID,
		"task_type":          t.TaskType,
		"priority":           string(t.Priority),
		"status":             string(t.Status),
		"assigned_node":      assignedNode,
		"created_at":         t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"started_at":         startedAt,
		"completed_at":       completedAt,
		"retry_count":        t.RetryCount,
		"max_retries":        t.MaxRetries,
		"timeout":            t.TimeoutSeconds,
		"data":               data,
		"result":             result,
		"error":              errStr,
		"dependencies":       strings.Join(t.Dependencies, ","),
		"estimated_duration": t.EstimatedDuration,
	}
}

func taskFromMap(m map[string]string) (*model.DistributedTask, error) {
	t := &model.DistributedTask{
		TaskID:            m["task_id"],
		TaskType:          m["task_type"],
		Priority:          model.TaskPriority(m["priority"]),
		Status:            model.TaskStatus(m["status"]),
		RetryCount:        atoiOr(m["retry_count"], 0),
		MaxRetries:        atoiOr(m["max_retries"], model.DefaultMaxRetries),
		TimeoutSeconds:    atoiOr(m["timeout"], model.DefaultTaskTimeoutSeconds),
		EstimatedDuration: atoiOr(m["estimated_duration"], model.DefaultEstimatedDuration),
		Data:              json.RawMessage(m["data"]),
	}
	if m["result"] != "" {
		t.Result = json.RawMessage(m["result"])
	}
	if m["assigned_node"] != "" {
		node := m["assigned_node"]
		t.AssignedNode = &node
	}
	if m["error"] != "" {
		e := m["error"]
		t.Error = &e
	}
	if m["dependencies"] != "" {
		t.Dependencies = strings.Split(m["dependencies"], ",")
	}
	if v, err := time.Parse(time.RFC3339Nano, m["created_at"]); err == nil {
		t.CreatedAt = v
	}
	if m["started_at"] != "" {
		if v, err := time.Parse(time.RFC3339Nano, m["started_at"]); err == nil {
			t.StartedAt = &v
		}
	}
	if m["completed_at"] != "" {
		if v, err := time.Parse(time.RFC3339Nano, m["completed_at"]); err == nil {
			t.CompletedAt = &v
		}
	}
	return t, nil
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
