package game

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"example.com/twotruths/internal/auth"
)

// TokenVerifier authenticates the player opening a socket.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Server struct {
	sessions *SessionService
	tokens   TokenVerifier
	log      *slog.Logger
}

func NewServer(sessions *SessionService, tokens TokenVerifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sessions: sessions,
		tokens:   tokens,
		log:      log,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
}

// handleGetSession serves the audit view of a session: its commitment and
// ledger publication, with the lie revealed once resolved.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, ok, err := s.sessions.Lookup(r.Context(), id)
	if err != nil {
		s.log.Error("load session", "session_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "message": "storage error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap.Public())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
