package server

import (
	"errors"
	"net/http"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/app"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ceilingResponse is the 409 body for a conversation at its token ceiling.
// It points the client at the remediation action that reopens the thread.
type ceilingResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	ConversationID string `json:"conversation_id"`
	Remediation    string `json:"remediation"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := warden.IdentityFromContext(r.Context())
	reply, err := s.deps.Chat.Send(r.Context(), id, &app.SendRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		var ce *warden.CeilingError
		if errors.As(err, &ce) {
			s.writeCeiling(w, ce)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if m := s.deps.Metrics; m != nil {
		m.TokensProcessed.WithLabelValues("input").Add(float64(reply.Usage.InputTokens))
		m.TokensProcessed.WithLabelValues("output").Add(float64(reply.Usage.OutputTokens))
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) writeCeiling(w http.ResponseWriter, ce *warden.CeilingError) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.GovernanceRejects.WithLabelValues("conversation").Inc()
	}
	var resp ceilingResponse
	resp.Error.Message = ce.Error()
	resp.Error.Type = "conversation_limit_reached"
	resp.ConversationID = ce.ConversationID
	resp.Remediation = "/v1/conversations/" + ce.ConversationID + "/remediate"
	writeJSON(w, http.StatusConflict, resp)
}
