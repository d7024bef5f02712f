package model

import (
	"encoding/json"
	"time"
)

// TaskPriority orders tasks within the pending queue; higher priority
// values are popped first by the scheduler.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// PriorityWeight is the scheduler's score divisor for each priority,
// grounded on the original distributed_processing.py LoadBalancer.
var PriorityWeight = map[TaskPriority]float64{
	PriorityLow:    0.5,
	PriorityNormal: 1.0,
	PriorityHigh:   1.5,
	PriorityUrgent: 2.0,
}

// TaskStatus is the lifecycle state of a DistributedTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// DistributedTask is a unit of work scheduled across the node pool.
type DistributedTask struct {
	TaskID            string          `json:"taskId"`
	TaskType          string          `json:"taskType"`
	Priority          TaskPriority    `json:"priority"`
	Status            TaskStatus      `json:"status"`
	AssignedNode      *string         `json:"assignedNode,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	RetryCount        int             `json:"retryCount"`
	MaxRetries        int             `json:"maxRetries"`
	TimeoutSeconds    int             `json:"timeoutSeconds"`
	Data              json.RawMessage `json:"data"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             *string         `json:"error,omitempty"`
	Dependencies      []string        `json:"dependencies,omitempty"`
	EstimatedDuration int             `json:"estimatedDuration"`
}

// DefaultTaskTimeoutSeconds and DefaultEstimatedDuration mirror the
// original source's defaults (timeout=3600s, estimated_duration=300s).
const (
	DefaultTaskTimeoutSeconds = 3600
	DefaultEstimatedDuration  = 300
	DefaultMaxRetries         = 3
)

// NodeRole describes what a node is willing to do.
type NodeRole string

const (
	NodeRoleCoordinator NodeRole = "coordinator"
	NodeRoleWorker      NodeRole = "worker"
	NodeRoleHybrid      NodeRole = "hybrid"
)

// Node is a registry entry for one process participating in the
// distributed job system.
type Node struct {
	NodeID           string    `json:"nodeId"`
	Role             NodeRole  `json:"role"`
	Host             string    `json:"host"`
	Port             int       `json:"port"`
	Capabilities     []string  `json:"capabilities"`
	MaxConcurrent    int       `json:"maxConcurrent"`
	CurrentLoad      int       `json:"currentLoad"`
	CPUPercent       float64   `json:"cpuPercent"`
	MemoryPercent    float64   `json:"memoryPercent"`
	LastHeartbeat    time.Time `json:"lastHeartbeat"`
	RegisteredAt     time.Time `json:"registeredAt"`
}
