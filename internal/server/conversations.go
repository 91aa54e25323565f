package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/app"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// listResponse wraps paged collection results.
type listResponse struct {
	Data   any `json:"data"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// pageParams parses offset/limit query parameters with bounds.
func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return offset, limit
}

// conversationView is the client-facing conversation shape. State is a
// string here; the stored form is an integer enum.
type conversationView struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	TotalTokens    int64  `json:"total_tokens"`
	SummaryContext string `json:"summary_context,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func viewConversation(c *warden.Conversation) conversationView {
	return conversationView{
		ID:             c.ID,
		State:          c.State.String(),
		TotalTokens:    c.TotalTokens,
		SummaryContext: c.SummaryContext,
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id := warden.IdentityFromContext(r.Context())
	offset, limit := pageParams(r)

	convs, err := s.deps.Store.ListConversations(r.Context(), app.OwnerKey(id), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, viewConversation(c))
	}
	writeJSON(w, http.StatusOK, listResponse{Data: views, Offset: offset, Limit: limit})
}

func (s *server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	id := warden.IdentityFromContext(r.Context())
	convID := chi.URLParam(r, "id")
	offset, limit := pageParams(r)

	conv, err := s.deps.Store.GetConversation(r.Context(), convID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if conv.OwnerID != app.OwnerKey(id) {
		s.writeError(w, r, warden.ErrForbidden)
		return
	}
	turns, err := s.deps.Store.ListTurns(r.Context(), convID, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: turns, Offset: offset, Limit: limit})
}

func (s *server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	id := warden.IdentityFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	res, err := s.deps.Remediation.Remediate(r.Context(), id, convID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Remediations.Inc()
	}
	writeJSON(w, http.StatusOK, res)
}
