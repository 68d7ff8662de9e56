package worker

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"shopfloor/pkg/coordination"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
)

// Heartbeat periodically refreshes this worker's liveness record so the
// operator surface can list live workers and the fleet gauge stays
// accurate. TTL is double the interval, tolerating one missed beat.
type Heartbeat struct {
	coordinator coordination.Coordinator
	info        coordination.NodeInfo
	interval    time.Duration
}

func NewHeartbeat(coordinator coordination.Coordinator, nodeID string) *Heartbeat {
	hostname, _ := os.Hostname()
	return &Heartbeat{
		coordinator: coordinator,
		info: coordination.NodeInfo{
			ID:        nodeID,
			Hostname:  hostname,
			CPUs:      runtime.NumCPU(),
			MemoryMB:  detectTotalMemory(),
			StartedAt: time.Now(),
		},
		interval: 5 * time.Second,
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("failed to detect memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Run blocks until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	log := logger.Get().With(zap.String("worker_id", h.info.ID))

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ttl := int(h.interval.Seconds()) * 2
			if err := h.coordinator.RegisterNode(ctx, h.info, ttl); err != nil {
				log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			metrics.HeartbeatsSent.Inc()

			if nodes, err := h.coordinator.GetActiveNodes(ctx); err == nil {
				metrics.ActiveWorkers.Set(float64(len(nodes)))
			}
		}
	}
}
