package transport

import (
	"encoding/json"
	"net/http"

	"deskbridge/internal/domain"
)

type statusResponse struct {
	Actors  []domain.ActorInfo `json:"actors"`
	Pending int                `json:"pending"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Actors:  s.router.Actors(),
		Pending: s.router.Pending(),
	})
}
