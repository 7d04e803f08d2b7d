package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/call"
	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	"github.com/hackgods/telehealth-realtime/internal/registry"
	"github.com/hackgods/telehealth-realtime/internal/room"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

var (
	errForbiddenRoom   = errors.New("cannot join another participant's personal room")
	errForeignPairRoom = errors.New("cannot join a pair room you are not part of")
	errReservedRoom    = errors.New("room is managed by the server")
	errNotMember       = errors.New("not a member of this room")
	errNotYourself     = errors.New("status can only be set for yourself")
	errNotSessionParty = errors.New("not a party of this session")
	errUnknownEvent    = errors.New("unknown event")
)

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: data is required", event.ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		return val.Validate()
	}
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, c *registry.Conn, env event.Envelope) {
	var err error
	switch env.Event {
	case event.JoinRoom:
		err = g.handleJoin(c, env.Data)
	case event.LeaveRoom:
		err = g.handleLeave(c, env.Data)
	case event.Message:
		err = g.handleMessage(c, env.Data)
	case event.UserStatus:
		err = g.handleStatus(c, env.Data)
	case event.SessionSchedule:
		g.handleSchedule(ctx, c, env.Data)
	case event.SessionUpdate:
		g.handleSessionUpdate(ctx, c, env.Data)
	case event.SlotsGet:
		err = g.handleSlots(ctx, c, env.Data)
	case event.CallInitiate:
		err = g.handleCallInitiate(ctx, c, env.Data)
	case event.CallAccept, event.CallReject, event.CallEnd:
		err = g.handleCallRef(c, env.Event, env.Data)
	case event.FileShare:
		err = g.handleFileShare(ctx, c, env.Data)
	case event.NotificationRead:
		err = g.handleNotificationRead(c, env.Data)
	case event.NotificationReadAll:
		g.inbox.MarkAllRead(c.Participant().ID)
	default:
		err = fmt.Errorf("%w %q", errUnknownEvent, env.Event)
	}

	if err != nil {
		g.log.Debug("event rejected",
			zap.String("conn", c.ID()),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		g.reply(c, event.New(event.Error, event.ErrorPayload{Event: env.Event, Error: err.Error()}))
	}
}

func (g *Gateway) handleJoin(c *registry.Conn, raw json.RawMessage) error {
	var req event.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	pid := c.Participant().ID
	if strings.HasPrefix(req.RoomID, room.UserRoom("")) && req.RoomID != room.UserRoom(pid) {
		return errForbiddenRoom
	}
	if room.IsPairRoom(req.RoomID) && !room.IsPairRoomOf(req.RoomID, pid) {
		return errForeignPairRoom
	}
	return g.reg.Join(c, req.RoomID)
}

func (g *Gateway) handleLeave(c *registry.Conn, raw json.RawMessage) error {
	var req event.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.RoomID == room.Lobby || req.RoomID == room.UserRoom(c.Participant().ID) {
		return errReservedRoom
	}
	return g.reg.Leave(c, req.RoomID)
}

// handleMessage stamps the sender and routes to the explicit room, or to the
// sender/recipient pair room.
func (g *Gateway) handleMessage(c *registry.Conn, raw json.RawMessage) error {
	var msg event.ChatMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}

	msg.From = c.Participant().ID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = g.now().UTC()
	}

	target := msg.Room
	switch {
	case target == "":
		target = room.PairRoomKey(msg.From, msg.To)
	case target == room.Lobby || strings.HasPrefix(target, room.UserRoom("")):
		return errReservedRoom
	case !g.isMember(c, target):
		return errNotMember
	}

	g.router.Publish(target, event.New(event.Message, msg))
	return nil
}

func (g *Gateway) isMember(c *registry.Conn, roomID string) bool {
	for _, m := range g.reg.MembersOf(roomID) {
		if m == c {
			return true
		}
	}
	return false
}

func (g *Gateway) handleStatus(c *registry.Conn, raw json.RawMessage) error {
	var upd event.StatusUpdate
	if err := decode(raw, &upd); err != nil {
		return err
	}
	pid := c.Participant().ID
	if upd.UserID != "" && upd.UserID != pid {
		return errNotYourself
	}
	status, err := presence.ParseStatus(upd.Status)
	if err != nil {
		return err
	}
	return g.presence.SetStatus(pid, status)
}

func (g *Gateway) handleSchedule(ctx context.Context, c *registry.Conn, raw json.RawMessage) {
	// defaults are applied by the scheduler, so Validate runs there
	var s scheduler.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		g.sessionError(c, "", fmt.Errorf("%w: %v", event.ErrMalformed, err))
		return
	}
	pid := c.Participant().ID
	if pid != s.DoctorID && pid != s.PatientID {
		g.sessionError(c, s.ID, errNotSessionParty)
		return
	}
	if s.ID != "" {
		stored, err := g.sched.Get(ctx, s.ID)
		switch {
		case err == nil && pid != stored.DoctorID && pid != stored.PatientID:
			g.sessionError(c, s.ID, errNotSessionParty)
			return
		case err != nil && !errors.Is(err, scheduler.ErrSessionNotFound):
			g.sessionError(c, s.ID, err)
			return
		}
	}
	if _, err := g.sched.Schedule(ctx, s); err != nil {
		g.sessionError(c, s.ID, err)
	}
}

func (g *Gateway) handleSessionUpdate(ctx context.Context, c *registry.Conn, raw json.RawMessage) {
	var upd event.SessionStatusUpdate
	if err := decode(raw, &upd); err != nil {
		g.sessionError(c, upd.SessionID, err)
		return
	}
	current, err := g.sched.Get(ctx, upd.SessionID)
	if err != nil {
		g.sessionError(c, upd.SessionID, err)
		return
	}
	pid := c.Participant().ID
	if pid != current.DoctorID && pid != current.PatientID {
		g.sessionError(c, upd.SessionID, errNotSessionParty)
		return
	}
	if _, err := g.sched.UpdateStatus(ctx, upd.SessionID, scheduler.Status(upd.Status)); err != nil {
		g.sessionError(c, upd.SessionID, err)
	}
}

// sessionError answers the requesting connection only.
func (g *Gateway) sessionError(c *registry.Conn, sessionID string, err error) {
	msg := err.Error()
	if errors.Is(err, scheduler.ErrSchedulingConflict) {
		msg = "Time slot already booked"
	}
	g.log.Debug("session request rejected",
		zap.String("conn", c.ID()),
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
	g.reply(c, event.New(event.SessionError, event.SessionErrorPayload{SessionID: sessionID, Error: msg}))
}

func (g *Gateway) handleSlots(ctx context.Context, c *registry.Conn, raw json.RawMessage) error {
	var req event.SlotsRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	slots, err := g.sched.AvailableSlots(ctx, req.DoctorID, g.now())
	if err != nil {
		return err
	}
	if slots == nil {
		slots = []scheduler.Slot{}
	}
	g.reply(c, event.New(event.SlotsList, slots))
	return nil
}

func (g *Gateway) handleCallInitiate(ctx context.Context, c *registry.Conn, raw json.RawMessage) error {
	var req call.Data
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.Receiver.ID == "" {
		return fmt.Errorf("%w: receiver.id is required", event.ErrMalformed)
	}
	_, err := g.calls.Initiate(ctx, c.Participant().ID, req)
	return err
}

func (g *Gateway) handleCallRef(c *registry.Conn, name string, raw json.RawMessage) error {
	var ref event.CallRef
	if err := decode(raw, &ref); err != nil {
		return err
	}
	pid := c.Participant().ID

	var err error
	switch name {
	case event.CallAccept:
		_, err = g.calls.Accept(pid, ref.CallID)
	case event.CallReject:
		_, err = g.calls.Reject(pid, ref.CallID)
	default:
		_, err = g.calls.End(pid, ref.CallID)
	}
	return err
}

// handleFileShare delivers to the recipient and echoes to the sender's other
// connections.
func (g *Gateway) handleFileShare(ctx context.Context, c *registry.Conn, raw json.RawMessage) error {
	var f event.FileSharePayload
	if err := decode(raw, &f); err != nil {
		return err
	}
	sender := c.Participant()
	if _, err := g.reg.Lookup(ctx, f.To); err != nil {
		return err
	}

	f.From = sender.ID
	f.FromName = sender.Name
	if f.FileID == "" {
		f.FileID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = g.now().UTC()
	}

	ev := event.New(event.FileShared, f)
	g.router.SendToParticipant(f.To, ev)

	var others []*registry.Conn
	for _, own := range g.reg.ConnectionsOf(sender.ID) {
		if own != c {
			others = append(others, own)
		}
	}
	g.router.Send(others, ev)

	g.inbox.Notify(f.To, "File shared", fmt.Sprintf("%s shared %s", sender.Name, f.File.Name))
	return nil
}

func (g *Gateway) handleNotificationRead(c *registry.Conn, raw json.RawMessage) error {
	var ref event.NotificationRef
	if err := decode(raw, &ref); err != nil {
		return err
	}
	return g.inbox.MarkRead(c.Participant().ID, ref.ID)
}
