package ocpp

import (
	"encoding/json"
	"fmt"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// CALLERROR codes used by the charge point.
const (
	ErrorCodeNotImplemented = "NotImplemented"
	ErrorCodeFormation      = "FormationViolation"
)

// Frame is a decoded OCPP-J message. Fields are populated according to Type.
type Frame struct {
	Type             MessageType
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
}

// NewCall builds a CALL frame with a JSON encoded payload.
func NewCall(id, action string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", action, err)
	}
	return json.Marshal([]any{MessageTypeCall, id, action, json.RawMessage(p)})
}

// NewCallResult builds a CALLRESULT frame answering id.
func NewCallResult(id string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]any{MessageTypeCallResult, id, json.RawMessage(p)})
}

// NewCallError builds a CALLERROR frame answering id.
func NewCallError(id, code, description string) ([]byte, error) {
	return json.Marshal([]any{MessageTypeCallError, id, code, description, struct{}{}})
}

// ParseFrame decodes a raw OCPP-J message.
func ParseFrame(data []byte) (Frame, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(fields) < 3 {
		return Frame{}, fmt.Errorf("frame has %d elements", len(fields))
	}
	var f Frame
	if err := json.Unmarshal(fields[0], &f.Type); err != nil {
		return Frame{}, fmt.Errorf("invalid message type: %w", err)
	}
	if err := json.Unmarshal(fields[1], &f.UniqueID); err != nil {
		return Frame{}, fmt.Errorf("invalid unique id: %w", err)
	}
	switch f.Type {
	case MessageTypeCall:
		if len(fields) != 4 {
			return f, fmt.Errorf("call frame has %d elements, expected 4", len(fields))
		}
		if err := json.Unmarshal(fields[2], &f.Action); err != nil {
			return f, fmt.Errorf("invalid action: %w", err)
		}
		f.Payload = fields[3]
	case MessageTypeCallResult:
		f.Payload = fields[2]
	case MessageTypeCallError:
		if len(fields) < 4 {
			return f, fmt.Errorf("call error frame has %d elements", len(fields))
		}
		if err := json.Unmarshal(fields[2], &f.ErrorCode); err != nil {
			return f, fmt.Errorf("invalid error code: %w", err)
		}
		_ = json.Unmarshal(fields[3], &f.ErrorDescription)
		if len(fields) > 4 {
			f.Payload = fields[4]
		}
	default:
		return f, fmt.Errorf("unknown message type %d", f.Type)
	}
	return f, nil
}
