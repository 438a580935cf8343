package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
)

// SystemMetrics is the JSON view served at /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Resources     ResourceMetrics   `json:"resources"`
	Collector     CollectorMetrics  `json:"collector"`
	Processing    *metrics.Snapshot `json:"processing,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ResourceMetrics counts registry records by state.
type ResourceMetrics struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
}

// CollectorMetrics describes the result collector.
type CollectorMetrics struct {
	State          string  `json:"state"`
	Topic          string  `json:"topic,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.Hub().ClientCount()},
		Resources: ResourceMetrics{ByState: map[string]int{}},
		Collector: CollectorMetrics{
			State:          s.collector.State().String(),
			Topic:          s.collector.Address(),
			TimeoutSeconds: s.collector.Timeout().Seconds(),
		},
	}

	for _, rec := range s.registry.List() {
		resp.Resources.Total++
		resp.Resources.ByState[rec.State.String()]++
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Processing = &snap
	}

	writeJSON(w, http.StatusOK, resp)
}
