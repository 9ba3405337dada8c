package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the /system response: runtime figures plus the
// state of the live feed and uplink buffer.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Machines      MachineMetrics `json:"machines"`
	UplinkPending int            `json:"uplink_pending"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live feed statistics.
type WSMetrics struct {
	ConnectedClients int      `json:"connected_clients"`
	Broadcasts       uint64   `json:"broadcasts"`
	Dropped          uint64   `json:"dropped"`
	Channels         []string `json:"channels"`
}

// MachineMetrics counts configured and connected machines.
type MachineMetrics struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
}

const bytesPerMB = 1024 * 1024

// handleSystem returns runtime and gateway counters.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	machines := s.provider.Machines()
	connected := 0
	for _, m := range machines {
		if m.Connected {
			connected++
		}
	}

	hub := s.hub.Stats()
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(mem.Sys) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: hub.Clients,
			Broadcasts:       hub.Broadcasts,
			Dropped:          hub.Dropped,
			Channels:         Channels(),
		},
		Machines:      MachineMetrics{Total: len(machines), Connected: connected},
		UplinkPending: s.provider.UplinkStatus().BufferSize,
	})
}
