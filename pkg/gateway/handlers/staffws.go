package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carevox/carevox/pkg/core/escalation"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/gateway/config"
	"github.com/carevox/carevox/pkg/staff"
)

const helloDeadline = 15 * time.Second

// StaffWSHandler upgrades staff clients onto the notification hub. The
// first frame must be a hello; after registration the read loop dispatches
// heartbeat, presence, acknowledge, and resolve frames until the
// connection drops.
type StaffWSHandler struct {
	Config      config.Config
	Hub         *staff.Hub
	Escalations *escalation.Manager
	Logger      *slog.Logger
}

func (h StaffWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true // non-browser client
			}
			_, ok := h.Config.CORSAllowedOrigins[origin]
			return ok
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn.SetReadLimit(h.Config.WSReadLimit)

	conn.SetReadDeadline(time.Now().Add(helloDeadline))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	msg, err := staff.DecodeClientMessage(raw)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}
	hello, ok := msg.(staff.ClientHello)
	if !ok {
		h.closeWithError(conn, &staff.DecodeError{Code: "bad_request", Message: "first frame must be hello", Param: "type"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	sender := staff.NewWSSender(conn)
	c := h.Hub.Register(hello.StaffID, types.Department(hello.Department), sender)
	defer h.Hub.Unregister(c.ID())

	if err := sender.Send(staff.Envelope{Event: "connected", Data: map[string]string{
		"connection_id": c.ID(),
	}}); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug("staff read loop ended",
					"connection_id", c.ID(), "error", err)
			}
			return
		}
		msg, err := staff.DecodeClientMessage(raw)
		if err != nil {
			h.sendError(sender, err)
			continue
		}

		switch m := msg.(type) {
		case staff.ClientHeartbeat:
			h.Hub.Heartbeat(c.ID())
		case staff.ClientPresence:
			h.Hub.SetPresence(c.ID(), staff.PresenceStatus(m.Status))
		case staff.ClientAcknowledge:
			ev, err := h.Escalations.Acknowledge(r.Context(), m.EscalationID, c.StaffID())
			if err != nil {
				h.sendError(sender, err)
				continue
			}
			_ = sender.Send(staff.Envelope{Event: escalation.EventEscalationAcknowledged, Data: ev})
		case staff.ClientResolve:
			ev, err := h.Escalations.Resolve(r.Context(), m.EscalationID, c.StaffID(), m.Resolution, m.FollowUpRequired)
			if err != nil {
				h.sendError(sender, err)
				continue
			}
			_ = sender.Send(staff.Envelope{Event: escalation.EventEscalationResolved, Data: ev})
		case staff.ClientHello:
			h.sendError(sender, &staff.DecodeError{Code: "bad_request", Message: "already registered", Param: "type"})
		}
	}
}

func (h StaffWSHandler) sendError(sender *staff.WSSender, err error) {
	var decodeErr *staff.DecodeError
	if errors.As(err, &decodeErr) {
		_ = sender.Send(staff.Envelope{Event: "error", Data: decodeErr})
		return
	}
	_ = sender.Send(staff.Envelope{Event: "error", Data: map[string]string{
		"code":    "request_failed",
		"message": err.Error(),
	}})
}

func (h StaffWSHandler) closeWithError(conn *websocket.Conn, err error) {
	deadline := time.Now().Add(writeCloseTimeout)
	conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(staff.Envelope{Event: "error", Data: err})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake failed"), deadline)
	conn.Close()
}

const writeCloseTimeout = 5 * time.Second
