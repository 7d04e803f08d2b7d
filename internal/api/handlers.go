package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/telehealth-realtime/internal/intent"
	"github.com/hackgods/telehealth-realtime/internal/notification"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	redisclient "github.com/hackgods/telehealth-realtime/internal/redis"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

func loginHandler(dir participant.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Username == "" || req.Password == "" || !req.Role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_credentials_format", "username, password and role (doctor|patient) are required")
			return
		}

		p, err := dir.Authenticate(r.Context(), req.Username, req.Password, req.Role)
		if err != nil {
			if errors.Is(err, participant.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

func listSessionsHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			sessions []scheduler.Session
			err      error
		)
		if doctorID := r.URL.Query().Get("doctorId"); doctorID != "" {
			sessions, err = svc.ListByDoctor(r.Context(), doctorID)
		} else {
			sessions, err = svc.List(r.Context())
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if sessions == nil {
			sessions = []scheduler.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func getSessionHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func scheduleSessionHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduler.Session
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sess, err := svc.Schedule(r.Context(), req)
		if err != nil {
			handleSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func doctorSlotsHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "id")

		asOf := time.Now().UTC()
		if raw := r.URL.Query().Get("asOf"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_as_of", "asOf must be an RFC3339 timestamp")
				return
			}
			asOf = t.UTC()
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, asOf)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if slots == nil {
			slots = []scheduler.Slot{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Slots: slots})
	}
}

func presenceHandler(tracker *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tracker.Snapshot())
	}
}

func notificationsHandler(inbox *notification.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := inbox.List(chi.URLParam(r, "userId"))
		if list == nil {
			list = []notification.Notification{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func messageHandler(detector intent.Detector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		reply, err := detector.Detect(r.Context(), req.Message)
		if err != nil {
			switch {
			case errors.Is(err, intent.ErrEmptyMessage):
				writeError(w, http.StatusBadRequest, "message_required", err.Error())
			case errors.Is(err, intent.ErrUpstream):
				writeError(w, http.StatusBadGateway, "intent_service_failed", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Reply: reply})
	}
}

func handleSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, scheduler.ErrSchedulingConflict):
		writeError(w, http.StatusConflict, "slot_already_booked", "Time slot already booked")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduler.ErrInvalidSession),
		errors.Is(err, participant.ErrInvalidParticipant):
		writeError(w, http.StatusBadRequest, "invalid_session", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
