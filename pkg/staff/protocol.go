// Package staff maintains the persistent connections to staff clients and
// delivers escalation notifications to them, queueing for departments with
// nobody online.
package staff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carevox/carevox/pkg/core/types"
)

// DecodeError describes a malformed or unsupported client frame.
type DecodeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// PresenceStatus orders how eagerly a staff member wants new work.
type PresenceStatus string

const (
	PresenceAvailable PresenceStatus = "available"
	PresenceBusy      PresenceStatus = "busy"
	PresenceAway      PresenceStatus = "away"
)

// rank orders available before busy before away for the notify loop.
func (p PresenceStatus) rank() int {
	switch p {
	case PresenceAvailable:
		return 0
	case PresenceBusy:
		return 1
	default:
		return 2
	}
}

// ClientHello registers the staff member on a fresh connection.
type ClientHello struct {
	Type       string `json:"type"`
	StaffID    string `json:"staff_id"`
	Department string `json:"department"`
}

// ClientHeartbeat keeps the connection alive past the eviction sweep.
type ClientHeartbeat struct {
	Type string `json:"type"`
}

// ClientPresence updates the staff member's availability.
type ClientPresence struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ClientAcknowledge claims an escalation.
type ClientAcknowledge struct {
	Type         string `json:"type"`
	EscalationID string `json:"escalation_id"`
}

// ClientResolve closes out an escalation.
type ClientResolve struct {
	Type             string `json:"type"`
	EscalationID     string `json:"escalation_id"`
	Resolution       string `json:"resolution"`
	FollowUpRequired bool   `json:"follow_up_required,omitempty"`
}

// Envelope is the shape of every server-to-staff message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// DecodeClientMessage parses and validates one staff client frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if strings.TrimSpace(msg.StaffID) == "" {
			return nil, badRequest("hello.staff_id is required", "staff_id")
		}
		dept := types.Department(strings.TrimSpace(msg.Department))
		switch dept {
		case types.DepartmentReception, types.DepartmentMedical, types.DepartmentBilling, types.DepartmentTechnical:
		default:
			return nil, unsupported("unsupported department", "department")
		}
		msg.Department = string(dept)
		return msg, nil
	case "heartbeat":
		var msg ClientHeartbeat
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid heartbeat frame", "")
		}
		return msg, nil
	case "presence":
		var msg ClientPresence
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid presence frame", "")
		}
		status := PresenceStatus(strings.TrimSpace(msg.Status))
		switch status {
		case PresenceAvailable, PresenceBusy, PresenceAway:
		default:
			return nil, unsupported("unsupported presence status", "status")
		}
		msg.Status = string(status)
		return msg, nil
	case "acknowledge":
		var msg ClientAcknowledge
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid acknowledge frame", "")
		}
		if strings.TrimSpace(msg.EscalationID) == "" {
			return nil, badRequest("acknowledge.escalation_id is required", "escalation_id")
		}
		return msg, nil
	case "resolve":
		var msg ClientResolve
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid resolve frame", "")
		}
		if strings.TrimSpace(msg.EscalationID) == "" {
			return nil, badRequest("resolve.escalation_id is required", "escalation_id")
		}
		if strings.TrimSpace(msg.Resolution) == "" {
			return nil, badRequest("resolve.resolution is required", "resolution")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}
