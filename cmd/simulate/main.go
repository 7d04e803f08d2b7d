package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hackgods/telehealth-realtime/internal/config"
	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

// errRejected marks a generic "error" event, e.g. the per-connection rate
// limit; the worker backs off and keeps going.
var errRejected = errors.New("request rejected by server")

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	DoctorID      string
	PatientIDs    []string
	ScheduleRatio float64
	ChatRatio     float64
	ReadRatio     float64
	SlotWindow    int // candidate start times; small windows force contention
	ReplyTimeout  time.Duration
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Schedule OperationMetrics
	Chat     OperationMetrics
	Slots    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	base    time.Time
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d doctor=%s schedule=%.2f chat=%.2f read=%.2f window=%d",
		cfg.Duration, cfg.Workers, cfg.DoctorID, cfg.ScheduleRatio, cfg.ChatRatio, cfg.ReadRatio, cfg.SlotWindow)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		// far enough ahead that every candidate is in the future
		base: time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 2).Add(9 * time.Hour),
	}

	sim.Run()
	sim.PrintReport()

	if err := sim.VerifyCalendar(context.Background()); err != nil {
		log.Fatalf("calendar check failed: %v", err)
	}
	log.Println("calendar check passed: no overlapping sessions")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 20*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		DoctorID:      getEnv("SIM_DOCTOR_ID", "d1"),
		PatientIDs:    strings.Split(getEnv("SIM_PATIENT_IDS", "p1,p2"), ","),
		ScheduleRatio: getFloat("SIM_SCHEDULE_RATIO", 0.4),
		ChatRatio:     getFloat("SIM_CHAT_RATIO", 0.4),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.2),
		SlotWindow:    getInt("SIM_SLOT_WINDOW", 16),
		ReplyTimeout:  getDuration("SIM_REPLY_TIMEOUT", 5*time.Second),
	}

	// Normalize ratios
	total := cfg.ScheduleRatio + cfg.ChatRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ScheduleRatio /= total
		cfg.ChatRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotWindow <= 0 {
		return fmt.Errorf("SIM_SLOT_WINDOW must be > 0")
	}
	if len(cfg.PatientIDs) == 0 || cfg.PatientIDs[0] == "" {
		return fmt.Errorf("SIM_PATIENT_IDS must list at least one patient")
	}
	return nil
}

func (s *Simulator) wsURL(userID string) (string, error) {
	u, err := url.Parse(s.config.APIBaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"userId": {userID}}.Encode()
	return u.String(), nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := s.worker(ctx, workerID); err != nil {
				log.Printf("worker %d stopped: %v", workerID, err)
			}
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

// worker owns one websocket. A single goroutine reads frames onto a channel
// and the worker issues one request at a time, so replies are matched by
// event name and session id.
func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	patientID := s.config.PatientIDs[workerID%len(s.config.PatientIDs)]

	target, err := s.wsURL(patientID)
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer ws.Close()

	frames := make(chan event.Envelope, 256)
	go func() {
		defer close(frames)
		for {
			var env event.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
		}
	}()

	if err := send(ws, event.JoinRoom, event.RoomRequest{RoomID: "chat_room"}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.ScheduleRatio:
			err = s.doSchedule(ws, frames, patientID, rng)
		case r < s.config.ScheduleRatio+s.config.ChatRatio:
			err = s.doChat(ws, frames, patientID, workerID)
		default:
			err = s.doSlots(ws, frames)
		}
		if errors.Is(err, errRejected) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (s *Simulator) doSchedule(ws *websocket.Conn, frames <-chan event.Envelope, patientID string, rng *rand.Rand) error {
	sess := scheduler.Session{
		ID:          uuid.NewString(),
		DoctorID:    s.config.DoctorID,
		PatientID:   patientID,
		ScheduledAt: s.base.Add(time.Duration(rng.Intn(s.config.SlotWindow)*15) * time.Minute),
		Duration:    30,
		Type:        scheduler.TypeVideo,
	}

	start := time.Now()
	if err := send(ws, event.SessionSchedule, sess); err != nil {
		return err
	}

	env, err := s.await(frames, func(env event.Envelope) bool {
		switch env.Event {
		case event.SessionScheduled:
			var got scheduler.Session
			return json.Unmarshal(env.Data, &got) == nil && got.ID == sess.ID
		case event.SessionError:
			var got event.SessionErrorPayload
			return json.Unmarshal(env.Data, &got) == nil && got.SessionID == sess.ID
		}
		return false
	})
	latency := time.Since(start)
	if err != nil {
		s.metrics.Schedule.Record(latency, false, false)
		return err
	}


	s.metrics.Schedule.Record(latency, env.Event == event.SessionScheduled, env.Event == event.SessionError)
	return nil
}

// doChat measures the round trip of a room message back to its sender.
func (s *Simulator) doChat(ws *websocket.Conn, frames <-chan event.Envelope, patientID string, workerID int) error {
	text := fmt.Sprintf("worker %d says %s", workerID, uuid.NewString())

	start := time.Now()
	if err := send(ws, event.Message, event.ChatMessage{To: "chat_room", Room: "chat_room", Message: text}); err != nil {
		return err
	}

	_, err := s.await(frames, func(env event.Envelope) bool {
		if env.Event != event.Message {
			return false
		}
		var got event.ChatMessage
		return json.Unmarshal(env.Data, &got) == nil && got.From == patientID && got.Message == text
	})
	s.metrics.Chat.Record(time.Since(start), err == nil, false)
	return err
}

func (s *Simulator) doSlots(ws *websocket.Conn, frames <-chan event.Envelope) error {
	start := time.Now()
	if err := send(ws, event.SlotsGet, event.SlotsRequest{DoctorID: s.config.DoctorID}); err != nil {
		return err
	}
	_, err := s.await(frames, func(env event.Envelope) bool { return env.Event == event.SlotsList })
	s.metrics.Slots.Record(time.Since(start), err == nil, false)
	return err
}

func (s *Simulator) await(frames <-chan event.Envelope, match func(event.Envelope) bool) (event.Envelope, error) {
	timeout := time.NewTimer(s.config.ReplyTimeout)
	defer timeout.Stop()

	for {
		select {
		case env, ok := <-frames:
			if !ok {
				return event.Envelope{}, fmt.Errorf("connection closed")
			}
			if env.Event == event.Error {
				var e event.ErrorPayload
				_ = json.Unmarshal(env.Data, &e)
				return env, fmt.Errorf("%w: %s: %s", errRejected, e.Event, e.Error)
			}
			if match(env) {
				return env, nil
			}
		case <-timeout.C:
			return event.Envelope{}, fmt.Errorf("no reply within %s", s.config.ReplyTimeout)
		}
	}
}

func send(ws *websocket.Conn, name string, data any) error {
	b, err := event.New(name, data).Encode()
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, b)
}

// VerifyCalendar fetches the doctor's sessions and fails if any two blocking
// sessions overlap.
func (s *Simulator) VerifyCalendar(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/sessions?doctorId=%s", s.config.APIBaseURL, url.QueryEscape(s.config.DoctorID)), nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list sessions: status %s", resp.Status)
	}

	var sessions []scheduler.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}

	var blocking []scheduler.Session
	for _, sess := range sessions {
		if sess.Blocking() {
			blocking = append(blocking, sess)
		}
	}
	sort.Slice(blocking, func(i, j int) bool { return blocking[i].Start().Before(blocking[j].Start()) })

	for i := 1; i < len(blocking); i++ {
		a, b := blocking[i-1], blocking[i]
		if scheduler.Overlaps(a.Start(), a.End(), b.Start(), b.End()) {
			return fmt.Errorf("sessions %s and %s overlap", a.ID, b.ID)
		}
	}

	log.Printf("doctor %s holds %d blocking sessions", s.config.DoctorID, len(blocking))
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("Chat round trip", &s.metrics.Chat)
	printOperationReport("Slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
