package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared by collaborators.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrDisabled     = fmt.Errorf("disabled")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// IPC core errors. These are the kinds that cross the wire in RequestError frames.
var (
	ErrUnknownActor     = fmt.Errorf("unknown actor")
	ErrActorGone        = fmt.Errorf("actor gone")
	ErrUnknownMethod    = fmt.Errorf("unknown method")
	ErrCollaborator     = fmt.Errorf("collaborator failed")
	ErrInvalidArguments = fmt.Errorf("invalid arguments")
	ErrRouterClosed     = fmt.Errorf("router closed")
	ErrCallTimeout      = fmt.Errorf("call timed out")
	ErrInvalidFrame     = fmt.Errorf("invalid frame")
)

// Collaborator errors.
var (
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrDecryption     = fmt.Errorf("decryption failed")
	ErrEncryption     = fmt.Errorf("encryption operation failed")
	ErrDownload       = fmt.Errorf("download failed")
	ErrStore          = fmt.Errorf("store operation failed")
	ErrWindowNotFound = fmt.Errorf("window not found")
	ErrNoDialog       = fmt.Errorf("no file dialog available")
	ErrUpdateCheck    = fmt.Errorf("update check failed")
	ErrSocketClosed   = fmt.Errorf("admin socket not connected")
	ErrAuthInvalid    = fmt.Errorf("authentication failed")
	ErrPathOutsideDir = fmt.Errorf("path is outside target directory")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Router.Call")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeUnknownActor     ErrorCode = "UNKNOWN_ACTOR"
	CodeActorGone        ErrorCode = "ACTOR_GONE"
	CodeUnknownMethod    ErrorCode = "UNKNOWN_METHOD"
	CodeCollaborator     ErrorCode = "COLLABORATOR"
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	CodeRouterClosed     ErrorCode = "ROUTER_CLOSED"
	CodeCallTimeout      ErrorCode = "CALL_TIMEOUT"
	CodeInvalidFrame     ErrorCode = "INVALID_FRAME"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeDownload         ErrorCode = "DOWNLOAD"
	CodeStore            ErrorCode = "STORE"
	CodeWindowNotFound   ErrorCode = "WINDOW_NOT_FOUND"
	CodeNoDialog         ErrorCode = "NO_DIALOG"
	CodeUpdateCheck      ErrorCode = "UPDATE_CHECK"
	CodeSocketClosed     ErrorCode = "SOCKET_CLOSED"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodePathOutsideDir   ErrorCode = "PATH_OUTSIDE_DIR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnknownActor:     CodeUnknownActor,
	ErrActorGone:        CodeActorGone,
	ErrUnknownMethod:    CodeUnknownMethod,
	ErrCollaborator:     CodeCollaborator,
	ErrInvalidArguments: CodeInvalidArguments,
	ErrRouterClosed:     CodeRouterClosed,
	ErrCallTimeout:      CodeCallTimeout,
	ErrInvalidFrame:     CodeInvalidFrame,
	ErrNotFound:         CodeNotFound,
	ErrTimeout:          CodeTimeout,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
	ErrDownload:         CodeDownload,
	ErrStore:            CodeStore,
	ErrWindowNotFound:   CodeWindowNotFound,
	ErrNoDialog:         CodeNoDialog,
	ErrUpdateCheck:      CodeUpdateCheck,
	ErrSocketClosed:     CodeSocketClosed,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrPathOutsideDir:   CodePathOutsideDir,
}

// corePrecedence lists the sentinels checked before the rest of errorCodeMap
// when walking a wrapped chain. A collaborator failure reports as COLLABORATOR
// even when the collaborator wrapped a more specific sentinel.
var corePrecedence = []error{
	ErrCollaborator,
	ErrUnknownActor,
	ErrActorGone,
	ErrUnknownMethod,
	ErrInvalidArguments,
	ErrRouterClosed,
	ErrCallTimeout,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range corePrecedence {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Wire names used in the name field of a serialized error.
const (
	NameUnknownActor     = "UnknownActor"
	NameActorGone        = "ActorGone"
	NameUnknownMethod    = "UnknownMethod"
	NameCollaborator     = "CollaboratorError"
	NameInvalidArguments = "InvalidArguments"
	NameRouterClosed     = "RouterClosed"
	NameCallTimeout      = "CallTimeout"
	NameGeneric          = "Error"
)

// wireNames is ordered by precedence: a collaborator failure reports as
// CollaboratorError even when the collaborator itself wrapped a core kind.
var wireNames = []struct {
	name     string
	sentinel error
}{
	{NameCollaborator, ErrCollaborator},
	{NameUnknownActor, ErrUnknownActor},
	{NameActorGone, ErrActorGone},
	{NameUnknownMethod, ErrUnknownMethod},
	{NameInvalidArguments, ErrInvalidArguments},
	{NameRouterClosed, ErrRouterClosed},
	{NameCallTimeout, ErrCallTimeout},
}

// ErrorName returns the wire name for err: the core kind it wraps, the name
// carried by an error implementing interface{ ErrorName() string } (errors
// received from a peer), or "Error".
func ErrorName(err error) string {
	for _, w := range wireNames {
		if errors.Is(err, w.sentinel) {
			return w.name
		}
	}
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	return NameGeneric
}

// SentinelForName is the inverse of ErrorName for the core kinds.
func SentinelForName(name string) (error, bool) {
	for _, w := range wireNames {
		if w.name == name {
			return w.sentinel, true
		}
	}
	return nil, false
}
