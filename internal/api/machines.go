package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-gateway/internal/bridges/shdr"
)

// handleListMachines returns every configured line-protocol machine.
func (s *Server) handleListMachines(w http.ResponseWriter, _ *http.Request) {
	machines := s.provider.Machines()
	writeJSON(w, http.StatusOK, map[string]any{
		"machines": machines,
		"count":    len(machines),
	})
}

// handleGetMachine returns one machine.
func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.provider.Machine(id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleRestartMachine restarts a machine's stream and helper agent.
func (s *Server) handleRestartMachine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.provider.RestartMachine(r.Context(), id); err != nil {
		s.writeProviderError(w, err)
		return
	}
	s.logger.Info("machine restart requested via API", "machine_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "restarting",
		"machineId": id,
	})
}

// handleListCounters returns the latest counter module readings.
func (s *Server) handleListCounters(w http.ResponseWriter, _ *http.Request) {
	counters := s.provider.Counters()
	writeJSON(w, http.StatusOK, map[string]any{
		"counters": counters,
		"count":    len(counters),
	})
}

// handleListEstimates returns the cycle-time estimate of every counter machine.
func (s *Server) handleListEstimates(w http.ResponseWriter, _ *http.Request) {
	estimates := s.provider.Estimates()
	writeJSON(w, http.StatusOK, map[string]any{
		"estimates": estimates,
		"count":     len(estimates),
	})
}

// handleGetEstimate returns one machine's cycle-time estimate.
func (s *Server) handleGetEstimate(w http.ResponseWriter, r *http.Request) {
	est, err := s.provider.Estimate(chi.URLParam(r, "id"))
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// handleUplinkStatus returns the remote delivery buffer status.
func (s *Server) handleUplinkStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.UplinkStatus())
}

// writeProviderError maps provider errors to HTTP responses.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shdr.ErrUnknownDevice):
		writeNotFound(w, err.Error())
	case isBadRequest(err):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("api request failed", "error", err)
		writeInternalError(w, "internal server error")
	}
}
