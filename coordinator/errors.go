package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the best-effort classification of a failure. The backend only
// returns free-text error strings, so application failures are matched
// against an explicit substring table rather than a server-defined enum.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidPath      Kind = "invalid_path"
	KindConnectionFailed Kind = "connection_failed"
	KindTimeout          Kind = "timeout"
	KindUnknown          Kind = "unknown"
)

// kindPatterns maps server message substrings to kinds. Matching is
// case-insensitive and first-match-wins, so more specific patterns come
// first. Exported indirectly through ClassifyMessage for testability.
var kindPatterns = []struct {
	substr string
	kind   Kind
}{
	{"not found", KindNotFound},
	{"permission", KindPermissionDenied},
	{"not a file", KindInvalidPath},
	{"timeout", KindTimeout},
	{"timed out", KindTimeout},
	{"connection", KindConnectionFailed},
}

// ClassifyMessage maps a server-provided error message to a Kind.
// Falls back to KindUnknown when no pattern matches.
func ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range kindPatterns {
		if strings.Contains(lower, p.substr) {
			return p.kind
		}
	}
	return KindUnknown
}

// APIError is an application-level failure: the server answered, but with
// {success:false, error}. The raw message is preserved; Kind is derived.
type APIError struct {
	Op      string
	Kind    Kind
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// UserMessage returns the kind-specific message shown to the user, falling
// back to the raw server text when the kind is unknown.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case KindNotFound:
		return "File not found"
	case KindPermissionDenied:
		return "Permission denied"
	case KindInvalidPath:
		return "Path is not a file"
	case KindTimeout:
		return "Request timed out"
	case KindConnectionFailed:
		return "Could not connect to the server"
	default:
		return e.Message
	}
}

func newAPIError(op, msg string) *APIError {
	return &APIError{Op: op, Kind: ClassifyMessage(msg), Message: msg}
}

// ErrorKind extracts the Kind from any error produced by the coordinator.
// Transport failures classify as connection/timeout; everything else is
// unknown.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionFailed
	}
	return KindUnknown
}
