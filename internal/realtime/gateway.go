package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/telehealth-realtime/internal/call"
	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/notification"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	"github.com/hackgods/telehealth-realtime/internal/registry"
	"github.com/hackgods/telehealth-realtime/internal/room"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 15 * time.Second
	maxFrameBytes  = 64 << 10
	inboundBacklog = 16
)

type Options struct {
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	AllowedOrigins  []string
}

// Gateway terminates websocket connections and dispatches their events to
// the registry, presence, scheduler, call relay and notification inbox.
type Gateway struct {
	reg      *registry.Registry
	router   *room.Router
	presence *presence.Tracker
	sched    *scheduler.Service
	calls    *call.Relay
	inbox    *notification.Inbox
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGateway(
	reg *registry.Registry,
	router *room.Router,
	tracker *presence.Tracker,
	sched *scheduler.Service,
	calls *call.Relay,
	inbox *notification.Inbox,
	opts Options,
	log *zap.Logger,
) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		reg:      reg,
		router:   router,
		presence: tracker,
		sched:    sched,
		calls:    calls,
		inbox:    inbox,
		log:      log,
		opts:     opts,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS binds the connection to ?userId= before upgrading, so unknown
// participants are refused with a plain HTTP error.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	conn := registry.NewConn(g.opts.SendBuffer)

	first, err := g.reg.Register(r.Context(), conn, userID)
	if err != nil {
		if errors.Is(err, participant.ErrInvalidParticipant) {
			http.Error(w, "unknown participant", http.StatusForbidden)
			return
		}
		g.log.Error("register connection failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		g.disconnect(conn)
		return
	}

	g.wg.Add(1)
	defer g.wg.Done()

	g.attach(conn, first)
	g.log.Info("connection opened", zap.String("conn", conn.ID()), zap.String("user_id", userID))

	inbound := make(chan event.Envelope, inboundBacklog)
	dispatched := make(chan struct{})

	go g.readPump(ws, conn, inbound)
	go func() {
		defer close(dispatched)
		for env := range inbound {
			g.dispatch(g.ctx, conn, env)
		}
		g.disconnect(conn)
	}()

	g.writePump(ws, conn)
	_ = ws.Close()
	<-dispatched

	g.log.Info("connection closed", zap.String("conn", conn.ID()), zap.String("user_id", userID))
}

// Shutdown closes every open websocket and waits for their cleanup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) attach(c *registry.Conn, first bool) {
	pid := c.Participant().ID
	_ = g.reg.Join(c, room.UserRoom(pid))
	_ = g.reg.Join(c, room.Lobby)
	if first {
		g.presence.Connected(pid)
	}
	g.reply(c, event.New(event.PresenceList, g.presence.Snapshot()))
}

func (g *Gateway) disconnect(c *registry.Conn) {
	pid, last := g.reg.Unregister(c)
	if !last {
		return
	}
	g.calls.DropParticipant(pid)
	g.presence.Disconnected(pid)
}

// readPump decodes frames onto inbound and closes it when the socket fails.
func (g *Gateway) readPump(ws *websocket.Conn, c *registry.Conn, inbound chan<- event.Envelope) {
	defer close(inbound)

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var limiter *rate.Limiter
	if g.opts.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), max(g.opts.EventBurst, 1))
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket read failed", zap.String("conn", c.ID()), zap.Error(err))
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.reply(c, event.New(event.Error, event.ErrorPayload{Error: "frame must be {\"event\": name, \"data\": payload}"}))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			g.reply(c, event.New(event.Error, event.ErrorPayload{Event: env.Event, Error: "rate limit exceeded"}))
			continue
		}

		select {
		case inbound <- env:
		case <-g.ctx.Done():
			return
		}
	}
}

// writePump drains the connection queue until it is closed by Unregister,
// the socket fails, or the gateway shuts down.
func (g *Gateway) writePump(ws *websocket.Conn, c *registry.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-g.ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (g *Gateway) reply(c *registry.Conn, ev event.Event) {
	g.router.Send([]*registry.Conn{c}, ev)
}
