package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	Character string    `json:"character,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// ChatResponse is returned for both successful and failed turns.
type ChatResponse struct {
	Success    bool   `json:"success"`
	Reply      string `json:"reply,omitempty"`
	Character  string `json:"character,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
	Error      string `json:"error,omitempty"`
	Details    string `json:"details,omitempty"`
}

// ResetRequest is the body of POST /api/chat/clear.
type ResetRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

type ResetResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	NewSessionID string `json:"newSessionId"`
}

// FormatServerTime renders t as an ISO-8601 UTC instant with milliseconds.
func FormatServerTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Timestamp is an optional caller instant given either as an ISO-8601 string
// or as epoch milliseconds. An unparseable value is kept in Raw with Valid
// false so the caller can fall back to server time. Zone-less date-times are
// read as UTC here; In re-reads them in the server's zone.
type Timestamp struct {
	Time  time.Time
	Valid bool
	Raw   string
}

func (t Timestamp) IsSet() bool { return t.Raw != "" }

// In re-parses Raw with zone-less date-times taken as wall time in loc.
func (t Timestamp) In(loc *time.Location) Timestamp {
	if !t.IsSet() {
		return t
	}
	return ParseTimestampIn(t.Raw, loc)
}

// maxEpochMillis is the largest instant a JavaScript Date can hold.
const maxEpochMillis = 8.64e15

var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
	}
	dateOnlyLayout = "2006-01-02"
)

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ParseTimestamp(s)
		return nil
	}
	*t = ParseTimestamp(string(data))
	return nil
}

// ParseTimestamp is ParseTimestampIn with UTC.
func ParseTimestamp(s string) Timestamp {
	return ParseTimestampIn(s, time.UTC)
}

// ParseTimestampIn accepts ISO-8601 variants and epoch milliseconds.
// Date-times without a zone are wall time in loc; a bare date is UTC
// midnight. Non-finite or out-of-range epochs are invalid.
func ParseTimestampIn(s string, loc *time.Location) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	if loc == nil {
		loc = time.UTC
	}
	out := Timestamp{Raw: s}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(ms) || math.Abs(ms) > maxEpochMillis {
			return out
		}
		out.Time = time.UnixMilli(int64(ms))
		out.Valid = true
		return out
	}
	for _, layout := range zonedLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			out.Time, out.Valid = parsed, true
			return out
		}
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
			out.Time, out.Valid = parsed, true
			return out
		}
	}
	if parsed, err := time.Parse(dateOnlyLayout, s); err == nil {
		out.Time, out.Valid = parsed, true
	}
	return out
}

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat.message"
	TypeChatClear   MessageType = "chat.clear"
	TypeChatReply   MessageType = "chat.reply"
	TypeChatCleared MessageType = "chat.cleared"
	TypeErrorEvent  MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientChat carries one chat turn over the websocket.
type ClientChat struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	ChatRequest
}

type ClientClear struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	ResetRequest
}

type ChatReply struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"requestId,omitempty"`
	Reply      string      `json:"reply"`
	Character  string      `json:"character"`
	ServerTime string      `json:"serverTime"`
}

type ChatCleared struct {
	Type         MessageType `json:"type"`
	RequestID    string      `json:"requestId,omitempty"`
	Message      string      `json:"message"`
	NewSessionID string      `json:"newSessionId"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Code      string      `json:"code"`
	Error     string      `json:"error"`
	Details   string      `json:"details,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ClientChat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeChatClear:
		var msg ClientClear
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func MessageTypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientChat:
		return m.Type, true
	case ClientClear:
		return m.Type, true
	case ChatReply:
		return m.Type, true
	case ChatCleared:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
