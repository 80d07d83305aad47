package staff

import (
	"errors"
	"testing"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"hello","staff_id":"staff_7","department":"medical"}`))
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded %T, want ClientHello", msg)
	}
	if hello.StaffID != "staff_7" || hello.Department != "medical" {
		t.Fatalf("hello = %+v", hello)
	}
}

func TestDecodeClientMessage_Resolve(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"resolve","escalation_id":"esc_1","resolution":"called back","follow_up_required":true}`))
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	resolve := msg.(ClientResolve)
	if resolve.EscalationID != "esc_1" || !resolve.FollowUpRequired {
		t.Fatalf("resolve = %+v", resolve)
	}
}

func TestDecodeClientMessage_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		code  string
		param string
	}{
		{"invalid json", `{`, "bad_request", ""},
		{"missing type", `{}`, "bad_request", "type"},
		{"unknown type", `{"type":"dance"}`, "bad_request", "type"},
		{"hello without staff id", `{"type":"hello","department":"medical"}`, "bad_request", "staff_id"},
		{"hello unknown department", `{"type":"hello","staff_id":"s","department":"janitorial"}`, "unsupported", "department"},
		{"presence unknown status", `{"type":"presence","status":"napping"}`, "unsupported", "status"},
		{"acknowledge without id", `{"type":"acknowledge"}`, "bad_request", "escalation_id"},
		{"resolve without resolution", `{"type":"resolve","escalation_id":"esc_1"}`, "bad_request", "resolution"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.frame))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error = %v, want DecodeError", err)
			}
			if decodeErr.Code != tc.code || decodeErr.Param != tc.param {
				t.Fatalf("got code=%q param=%q, want code=%q param=%q",
					decodeErr.Code, decodeErr.Param, tc.code, tc.param)
			}
		})
	}
}

func TestDecodeClientMessage_Heartbeat(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if _, ok := msg.(ClientHeartbeat); !ok {
		t.Fatalf("decoded %T", msg)
	}
}
