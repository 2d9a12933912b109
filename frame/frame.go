// Package frame implements the application-level message envelope: the
// JSON object exchanged over a session, its normalisation pass, and the
// two wire encodings (length-prefixed for QUIC, bare for WebTransport).
package frame

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Known field names. Request-type-specific fields are accessed through Get/Set.
const (
	FieldRequestType   = "requestType"
	FieldAccountID     = "accountId"
	FieldTargetID      = "targetId"
	FieldAuthorization = "authorization"
	FieldState         = "state"
	FieldMessage       = "message"
)

// Request types understood by logic.Dispatcher (spec.md §4.4).
const (
	RequestRegister              = 0
	RequestForward               = 1
	RequestRestart               = 2
	RequestStopRemote            = 3
	RequestClose                 = 4
	RequestServerRegister        = 5
	RequestServerLogin           = 6
	RequestProcessLogin          = 7
	RequestProcessLogout         = 9
	RequestGameStart             = 11
	RequestGameStop              = 12
	RequestUserRequestByGameType = 13
)

// Frame is a decoded application message: a JSON object keyed by string
// field name. It is intentionally map-backed (not a fixed struct) because
// spec.md defines only a minimal required shape (requestType) with
// open-ended domain fields per request type.
type Frame map[string]interface{}

// Decode parses body as one JSON object frame.
func Decode(body []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("frame: decode: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("frame: decode: null body")
	}
	return f, nil
}

// Encode serialises the frame back to its JSON body.
func (f Frame) Encode() ([]byte, error) {
	b, err := json.Marshal(map[string]interface{}(f))
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	return b, nil
}

// RequestType returns the integer requestType field, or (0, false) if
// absent or not a number.
func (f Frame) RequestType() (int, bool) {
	v, ok := f[FieldRequestType]
	if !ok {
		return 0, false
	}
	n, ok := toInt(v)
	return n, ok
}

// AccountID returns the accountId field as a string.
func (f Frame) AccountID() (string, bool) {
	return toString(f[FieldAccountID])
}

// TargetID returns the targetId field as a string.
func (f Frame) TargetID() (string, bool) {
	return toString(f[FieldTargetID])
}

// Authorization returns the authorization field as a string.
func (f Frame) Authorization() (string, bool) {
	return toString(f[FieldAuthorization])
}

// GetString returns an arbitrary domain field (e.g. "gameType",
// "processName") as a string.
func (f Frame) GetString(key string) (string, bool) {
	return toString(f[key])
}

// GetInt returns an arbitrary domain field as an int.
func (f Frame) GetInt(key string) (int, bool) {
	return toInt(f[key])
}

// Set assigns a domain field, for building outbound reply frames.
func (f Frame) Set(key string, value interface{}) {
	f[key] = value
}

// Clone returns a shallow copy suitable for mutation before re-dispatch
// (e.g. USER_REQUEST_BY_GAME_TYPE rewriting requestType/targetId).
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// WithForwardState returns a copy of f with state=200, message="forward"
// applied (or overwritten), per spec.md §4.3's forward frame shape.
func (f Frame) WithForwardState() Frame {
	out := f.Clone()
	out[FieldState] = 200
	out[FieldMessage] = "forward"
	return out
}

// NotFound builds the 404 reply frame for an unknown target, preserving
// only requestType per spec.md §4.3.
func NotFound(requestType int) Frame {
	return Frame{
		FieldRequestType: requestType,
		FieldState:       404,
		FieldMessage:     "targetId is not register",
	}
}

// StateReply builds a bare {requestType, state, message} reply.
func StateReply(requestType, state int, message string) Frame {
	return Frame{
		FieldRequestType: requestType,
		FieldState:       state,
		FieldMessage:     message,
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case jsoniter.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Normalize performs the §3 deep walk: every string value anywhere in the
// object/array tree has NUL bytes and single quotes replaced with a space,
// hardening the frame before it is later concatenated into persistence
// queries by a handler.
func Normalize(f Frame) Frame {
	for k, v := range f {
		f[k] = normalizeValue(v)
	}
	return f
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = normalizeValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = normalizeValue(inner)
		}
		return val
	default:
		return v
	}
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", " ")
	s = strings.ReplaceAll(s, "'", " ")
	return s
}
