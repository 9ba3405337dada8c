package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-gateway/internal/production"
)

// defaultWindow is the lookback used when a request gives no from/to.
const defaultWindow = 8 * time.Hour

// errBadQuery marks query-parameter parse failures.
var errBadQuery = errors.New("api: bad query")

func isBadRequest(err error) bool {
	return errors.Is(err, errBadQuery) ||
		errors.Is(err, production.ErrInvalidWindow) ||
		errors.Is(err, production.ErrMachineIDRequired)
}

// parseWindow reads RFC 3339 from/to query parameters. A missing "to" is
// now and a missing "from" is defaultWindow before "to".
func parseWindow(r *http.Request, now time.Time) (from, to time.Time, err error) {
	q := r.URL.Query()

	to = now
	if v := q.Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %w", errBadQuery, err)
		}
	}

	from = to.Add(-defaultWindow)
	if v := q.Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %w", errBadQuery, err)
		}
	}
	return from, to, nil
}

// handleListCycles returns reconstructed cycles that ended in the window.
func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, to, err := parseWindow(r, time.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	cycles, err := s.provider.Cycles(r.Context(), id, from, to)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machineId": id,
		"from":      from,
		"to":        to,
		"cycles":    cycles,
		"count":     len(cycles),
	})
}

// handleOEE computes OEE for a machine over the window.
func (s *Server) handleOEE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, to, err := parseWindow(r, time.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.provider.Analyze(r.Context(), id, from, to)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
