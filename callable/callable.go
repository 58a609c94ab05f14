// Package callable implements the invocation contract shared by the proxy
// endpoints: requests carry a {"data": {...}} envelope and failures are
// reported as a (status, message, details) triple.
package callable

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies a handler failure. The set mirrors the error codes callers
// already dispatch on.
type Kind string

const (
	Unauthenticated    Kind = "UNAUTHENTICATED"
	FailedPrecondition Kind = "FAILED_PRECONDITION"
	InvalidArgument    Kind = "INVALID_ARGUMENT"
	PermissionDenied   Kind = "PERMISSION_DENIED"
	NotFound           Kind = "NOT_FOUND"
	AlreadyExists      Kind = "ALREADY_EXISTS"
	ResourceExhausted  Kind = "RESOURCE_EXHAUSTED"
	Unavailable        Kind = "UNAVAILABLE"
	Internal           Kind = "INTERNAL"
)

func (k Kind) httpStatus() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	case InvalidArgument, FailedPrecondition:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the wire-level error triple.
type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// New builds an Error without details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewWithDetails attaches diagnostic payload callers can self-diagnose with.
func NewWithDetails(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Abort writes the error envelope and stops the handler chain. Non-callable
// errors are wrapped as internal without leaking internals into details.
func Abort(c *gin.Context, err error) {
	ce, ok := err.(*Error)
	if !ok {
		ce = &Error{Kind: Internal, Message: err.Error()}
	}
	body := gin.H{"status": string(ce.Kind), "message": ce.Message}
	if ce.Details != nil {
		body["details"] = ce.Details
	}
	c.AbortWithStatusJSON(ce.Kind.httpStatus(), gin.H{"error": body})
}

// UserID returns the authenticated caller id attached by the auth middleware.
func UserID(c *gin.Context) (int, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
