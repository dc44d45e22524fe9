package server

import (
	"encoding/json"
	"io"
	"net/http"

	"quillchat/internal/app"
)

// handleChat streams one chat turn over SSE. It works with or without a
// session: signed-in users get persistence, anonymous callers just stream.
// Request problems are rejected before the stream starts so they can be
// plain HTTP errors; anything after the first event goes in-band.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ValidateChatRequest(req); err != nil {
		writeAppError(w, err)
		return
	}
	user := s.optionalUser(r)

	transport, err := newSSETransport(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	transport.start()
	s.app.StreamChat(r.Context(), user, req, transport)
}
