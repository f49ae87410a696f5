package jobqueue

import (
	"encoding/json"
	"time"
)

// StatsSnapshot provides a point-in-time snapshot of queue statistics
type StatsSnapshot struct {
	Posted   uint64 // Jobs linked into the queue, reposts included
	Dequeued uint64 // Jobs removed by Next, quit jobs included
	Rejected uint64 // Posts refused with ErrQueueFull
	Requeued uint64 // Jobs reposted because their target order was not ready

	PendingJobs      int
	MaxQueueSize     int
	QueueUtilization float64 // Percent of capacity in use
}

// ToJSON converts the snapshot to an indented JSON string
func (s *StatsSnapshot) ToJSON() (string, error) {
	return s.toJSON(true)
}

// ToJSONCompact converts the snapshot to a compact JSON string
func (s *StatsSnapshot) ToJSONCompact() (string, error) {
	return s.toJSON(false)
}

func (s *StatsSnapshot) toJSON(prettyPrint bool) (string, error) {
	statsMap := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"queue": map[string]any{
			"posted":      s.Posted,
			"dequeued":    s.Dequeued,
			"rejected":    s.Rejected,
			"requeued":    s.Requeued,
			"pending":     s.PendingJobs,
			"capacity":    s.MaxQueueSize,
			"utilization": s.QueueUtilization,
		},
	}

	var (
		data []byte
		err  error
	)
	if prettyPrint {
		data, err = json.MarshalIndent(statsMap, "", "  ")
	} else {
		data, err = json.Marshal(statsMap)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
