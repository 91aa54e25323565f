package server

import (
	"errors"
	"net/http"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// usageResponse is the admin usage report: today's aggregate spend ledger,
// plus one subject's daily token usage when ?subject= is given.
type usageResponse struct {
	Day     string                  `json:"day"`
	Ledger  *warden.LedgerEntry     `json:"ledger"`
	Subject *warden.DailyTokenUsage `json:"subject,omitempty"`
}

func (s *server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	day := warden.DayKey(time.Now())

	ledger, err := s.deps.Store.GetLedger(r.Context(), day)
	switch {
	case errors.Is(err, warden.ErrNotFound):
		// No spend yet today; report a zero row rather than a 404.
		ledger = &warden.LedgerEntry{Day: day}
	case err != nil:
		s.writeError(w, r, err)
		return
	}

	resp := usageResponse{Day: day, Ledger: ledger}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		u, err := s.deps.Store.GetDailyTokenUsage(r.Context(), subject, day)
		switch {
		case errors.Is(err, warden.ErrNotFound):
			resp.Subject = &warden.DailyTokenUsage{Subject: subject, Day: day}
		case err != nil:
			s.writeError(w, r, err)
			return
		default:
			resp.Subject = u
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	subject := r.URL.Query().Get("subject")

	logs, err := s.deps.Store.ListRequestLogs(r.Context(), subject, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: logs, Offset: offset, Limit: limit})
}
