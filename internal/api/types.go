package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

type LoginRequest struct {
	Username string           `json:"username"`
	Password string           `json:"password"`
	Role     participant.Role `json:"role"`
}

type MessageRequest struct {
	Message string `json:"message"`
}

type MessageResponse struct {
	Reply string `json:"reply"`
}

type SlotsResponse struct {
	DoctorID string           `json:"doctorId"`
	Slots    []scheduler.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
