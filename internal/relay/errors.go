package relay

import (
	"errors"
	"fmt"
)

// RelayError is returned by registry operations.
type RelayError struct {
	Code    string
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeSessionExists    = "SESSION_EXISTS"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeLaunchFailed     = "LAUNCH_FAILED"
	ErrCodeInvalidParams    = "INVALID_PARAMS"
	ErrCodeShuttingDown     = "SHUTTING_DOWN"
)

// NewRelayError creates a new relay error.
func NewRelayError(code, message string, cause error) *RelayError {
	return &RelayError{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a *RelayError with the given code.
func IsCode(err error, code string) bool {
	var re *RelayError
	return errors.As(err, &re) && re.Code == code
}

// Messages returned to users for stop requests.
const (
	MsgStopped          = "Stream stopped successfully"
	MsgPermissionDenied = "Permission denied"
	MsgNotFound         = "Stream not found"
)

// StopMessage maps the result of Registry.Stop to a user facing message.
func StopMessage(err error) string {
	switch {
	case err == nil:
		return MsgStopped
	case IsCode(err, ErrCodePermissionDenied):
		return MsgPermissionDenied
	case IsCode(err, ErrCodeSessionNotFound):
		return MsgNotFound
	default:
		return err.Error()
	}
}
