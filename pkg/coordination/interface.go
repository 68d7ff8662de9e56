package coordination

import (
	"context"
	"time"
)

// NodeInfo describes one live worker node as reported by its heartbeat.
type NodeInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	CPUs      int       `json:"cpus"`
	MemoryMB  uint64    `json:"memory_mb"`
	StartedAt time.Time `json:"started_at"`
	SeenAt    time.Time `json:"seen_at"`
}

// Coordinator handles distributed coordination: leader election for the
// singleton maintenance loops and worker liveness tracking.
type Coordinator interface {
	// NewElection creates a new election instance for a campaign name.
	NewElection(name string) Election

	// RegisterNode refreshes a worker's liveness record under a TTL.
	// A node that stops heartbeating disappears after the TTL.
	RegisterNode(ctx context.Context, info NodeInfo, ttlSeconds int) error

	// GetActiveNodes lists workers with a live heartbeat.
	GetActiveNodes(ctx context.Context) ([]NodeInfo, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or ctx ends.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value, if any.
	Leader(ctx context.Context) (string, error)
}
