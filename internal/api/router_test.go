package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/intent"
	"github.com/hackgods/telehealth-realtime/internal/notification"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	"github.com/hackgods/telehealth-realtime/internal/registry"
	"github.com/hackgods/telehealth-realtime/internal/room"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

type failingDetector struct{ err error }

func (f failingDetector) Detect(context.Context, string) (string, error) { return "", f.err }

func newTestRouter(t *testing.T, detector intent.Detector) (http.Handler, *notification.Inbox) {
	t.Helper()
	dir, err := participant.NewDemoDirectory()
	if err != nil {
		t.Fatalf("demo directory: %v", err)
	}
	log := zap.NewNop()
	reg := registry.New(dir)
	router := room.NewRouter(reg, log)
	inbox := notification.NewInbox(router)
	sched := scheduler.NewService(scheduler.NewMemoryStore(), scheduler.NewKeyedLocker(), router, dir, scheduler.DefaultSlotRule(), log)
	sched.SetNotifier(inbox)

	h := NewRouter(RouterConfig{
		Scheduler: sched,
		Presence:  presence.NewTracker(router, reg),
		Inbox:     inbox,
		Intent:    detector,
		Directory: dir,
		Env:       "test",
		Version:   "test",
		Logger:    log,
	})
	return h, inbox
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, intent.StaticResponder{})

	rec := do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "running") {
		t.Fatalf("root: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	rec = do(t, h, http.MethodGet, "/health/ready", "")
	var ready ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if rec.Code != http.StatusOK || ready.Status != "ok" || len(ready.Dependencies) != 0 {
		t.Fatalf("readiness without deps: %d %+v", rec.Code, ready)
	}
}

func TestLogin(t *testing.T) {
	h, _ := newTestRouter(t, intent.StaticResponder{})

	tests := []struct {
		name   string
		body   string
		status int
		id     string
	}{
		{"doctor", `{"username":"doctor","password":"password","role":"doctor"}`, http.StatusOK, "d1"},
		{"patient", `{"username":"patient2","password":"password","role":"patient"}`, http.StatusOK, "p2"},
		{"wrong password", `{"username":"doctor","password":"nope","role":"doctor"}`, http.StatusUnauthorized, ""},
		{"wrong role", `{"username":"doctor","password":"password","role":"patient"}`, http.StatusUnauthorized, ""},
		{"missing role", `{"username":"doctor","password":"password"}`, http.StatusBadRequest, ""},
		{"bad json", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/login", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.id == "" {
				return
			}
			var p participant.Participant
			if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.ID != tt.id {
				t.Fatalf("id = %q, want %q", p.ID, tt.id)
			}
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	h, inbox := newTestRouter(t, intent.StaticResponder{})

	body := `{"id":"s1","doctorId":"d1","patientId":"p1","scheduledAt":"2099-01-10T10:00:00Z","duration":30}`
	rec := do(t, h, http.MethodPost, "/api/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: %d %s", rec.Code, rec.Body.String())
	}

	overlap := `{"id":"s2","doctorId":"d1","patientId":"p2","scheduledAt":"2099-01-10T10:15:00Z","duration":30}`
	rec = do(t, h, http.MethodPost, "/api/sessions", overlap)
	if rec.Code != http.StatusConflict {
		t.Fatalf("overlap: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/sessions", `{"doctorId":"d1","patientId":"p1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing scheduledAt: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions?doctorId=d1", "")
	var sessions []scheduler.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" || sessions[0].PatientName != "John Doe" {
		t.Fatalf("sessions = %+v", sessions)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/doctor/d1/slots?asOf=2099-01-10T00:00:00Z", "")
	var slots SlotsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	var taken int
	for _, s := range slots.Slots {
		if !s.Available {
			taken++
		}
	}
	if slots.DoctorID != "d1" || taken != 1 {
		t.Fatalf("slots: doctor %q taken %d", slots.DoctorID, taken)
	}

	rec = do(t, h, http.MethodGet, "/api/doctor/d1/slots?asOf=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad asOf: %d", rec.Code)
	}

	if inbox.Unread("p1") != 1 {
		t.Fatalf("patient unread = %d, want 1", inbox.Unread("p1"))
	}
	rec = do(t, h, http.MethodGet, "/api/notifications/p1", "")
	var notes []notification.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("notifications = %+v", notes)
	}
}

func TestMessageEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		detector intent.Detector
		body     string
		status   int
	}{
		{"static reply", intent.StaticResponder{}, `{"message":"hello there"}`, http.StatusOK},
		{"empty", intent.StaticResponder{}, `{"message":""}`, http.StatusBadRequest},
		{"upstream down", failingDetector{err: intent.ErrUpstream}, `{"message":"hi"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, tt.detector)
			rec := do(t, h, http.MethodPost, "/api/message", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp MessageResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Reply == "" {
				t.Fatalf("reply = %+v, err %v", resp, err)
			}
		})
	}
}

func TestPresenceEndpointEmpty(t *testing.T) {
	h, _ := newTestRouter(t, intent.StaticResponder{})
	rec := do(t, h, http.MethodGet, "/api/presence", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("presence: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("presence body = %q, want []", got)
	}
}
