package resource

import (
	"encoding/json"
	"time"

	"github.com/tphakala/audiostream/internal/jobqueue"
)

// KindStats holds the counters of one job kind
type KindStats struct {
	Posted    uint64        `json:"posted"`
	Rejected  uint64        `json:"rejected"`
	Requeued  uint64        `json:"requeued"`
	Executed  uint64        `json:"executed"`
	Failed    uint64        `json:"failed"`
	TotalTime time.Duration `json:"total_time_ns"`
}

// AverageTime returns the mean execution time, zero before the first run
func (k KindStats) AverageTime() time.Duration {
	if k.Executed == 0 {
		return 0
	}
	return k.TotalTime / time.Duration(k.Executed)
}

// ManagerStats is a point-in-time snapshot of the manager
type ManagerStats struct {
	Queue   jobqueue.StatsSnapshot
	Nodes   int
	Workers int
	// Jobs is keyed by job kind name, kinds never posted are omitted
	Jobs map[string]KindStats
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.treeMu.Lock()
	nodes := m.tree.len()
	m.treeMu.Unlock()

	jobs := make(map[string]KindStats)
	for k := range jobqueue.KindCount {
		c := &m.kinds[k]
		ks := KindStats{
			Posted:    c.posted.Load(),
			Rejected:  c.rejected.Load(),
			Requeued:  c.requeued.Load(),
			Executed:  c.executed.Load(),
			Failed:    c.failed.Load(),
			TotalTime: time.Duration(c.nanos.Load()),
		}
		if ks.Posted == 0 && ks.Executed == 0 && ks.Rejected == 0 {
			continue
		}
		jobs[jobqueue.Kind(k).String()] = ks
	}

	return ManagerStats{
		Queue:   m.queue.Stats(),
		Nodes:   nodes,
		Workers: m.workers,
		Jobs:    jobs,
	}
}

// ToJSON renders the snapshot as indented JSON.
func (s ManagerStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"queue": map[string]any{
			"posted":      s.Queue.Posted,
			"dequeued":    s.Queue.Dequeued,
			"rejected":    s.Queue.Rejected,
			"requeued":    s.Queue.Requeued,
			"pending":     s.Queue.PendingJobs,
			"capacity":    s.Queue.MaxQueueSize,
			"utilization": s.Queue.QueueUtilization,
		},
		"nodes":   s.Nodes,
		"workers": s.Workers,
		"jobs":    s.Jobs,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
