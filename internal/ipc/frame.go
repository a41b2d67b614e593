package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"deskbridge/internal/domain"
)

// FrameType identifies the kind of frame exchanged over an actor's channel.
type FrameType string

const (
	FrameTypeRequest      FrameType = "request"
	FrameTypeResponse     FrameType = "response"
	FrameTypeRequestError FrameType = "requestError"
)

// Frame is the envelope exchanged between the host and a renderer.
//
// Older renderers put the method name into Type and omit Method; ParseFrame
// accepts both shapes.
type Frame struct {
	Type   FrameType         `json:"type"`
	ID     string            `json:"id"`
	Method string            `json:"method,omitempty"` // request only
	Args   []json.RawMessage `json:"args,omitempty"`   // request only
	Value  json.RawMessage   `json:"value,omitempty"`  // response only
	Error  *ErrorInfo        `json:"error,omitempty"`  // requestError only
}

// ErrorInfo is the serialized form of a failed request.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewRequest builds a request frame. A nil args slice is sent as [].
func NewRequest(id, method string, args []json.RawMessage) Frame {
	if args == nil {
		args = []json.RawMessage{}
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Args: args}
}

// MarshalJSON always writes args on request frames, as an empty array when
// there are none. Other frame types omit it.
func (f Frame) MarshalJSON() ([]byte, error) {
	type wire Frame
	if f.Type != FrameTypeRequest {
		return json.Marshal(wire(f))
	}
	args := f.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal(struct {
		wire
		Args []json.RawMessage `json:"args"`
	}{wire(f), args})
}

// NewResponse builds a response frame. A nil value is sent as JSON null.
func NewResponse(id string, value json.RawMessage) Frame {
	if value == nil {
		value = json.RawMessage("null")
	}
	return Frame{Type: FrameTypeResponse, ID: id, Value: value}
}

// NewRequestError builds a requestError frame describing err.
func NewRequestError(id string, err error) Frame {
	info := &ErrorInfo{Name: domain.ErrorName(err), Message: err.Error()}
	var remote *RemoteError
	if errors.As(err, &remote) {
		info.Stack = remote.Stack
	}
	return Frame{Type: FrameTypeRequestError, ID: id, Error: info}
}

// ParseFrame decodes and validates one frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrInvalidFrame, err)
	}
	if f.ID == "" {
		return Frame{}, fmt.Errorf("%w: missing id", domain.ErrInvalidFrame)
	}
	switch f.Type {
	case FrameTypeResponse:
	case FrameTypeRequestError:
		if f.Error == nil {
			f.Error = &ErrorInfo{Name: domain.NameGeneric, Message: "unspecified error"}
		}
	case FrameTypeRequest:
		if f.Method == "" {
			return Frame{}, fmt.Errorf("%w: request %s without method", domain.ErrInvalidFrame, f.ID)
		}
	case "":
		return Frame{}, fmt.Errorf("%w: missing type", domain.ErrInvalidFrame)
	default:
		if f.Method == "" {
			f.Method = string(f.Type)
		}
		f.Type = FrameTypeRequest
	}
	return f, nil
}

// RemoteError is a failure reported by the peer in a requestError frame.
// errors.Is matches the domain sentinel named by Name, so callers can test
// for domain.ErrUnknownMethod and friends without caring which side failed.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// ErrorName returns the wire name the peer reported.
func (e *RemoteError) ErrorName() string { return e.Name }

func (e *RemoteError) Is(target error) bool {
	sentinel, ok := domain.SentinelForName(e.Name)
	return ok && sentinel == target
}

func remoteErrorFrom(info *ErrorInfo) *RemoteError {
	if info == nil {
		return &RemoteError{Name: domain.NameGeneric}
	}
	return &RemoteError{Name: info.Name, Message: info.Message, Stack: info.Stack}
}
