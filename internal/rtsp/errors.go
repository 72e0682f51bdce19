package rtsp

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL           = errors.New("invalid RTSP URL")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrClosed               = errors.New("session closed")
	ErrMalformedMessage     = errors.New("malformed RTSP message")
	ErrUnexpectedSequence   = errors.New("response for unknown CSeq")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrResponseDiscarded    = errors.New("response no longer retained")
)

// StatusError is reported when the server answers a request with a status
// the session does not handle.
type StatusError struct {
	Method  Method
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d %s", e.Method, e.Code, e.Message)
}
