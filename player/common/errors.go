package common

import (
	"maps"

	"github.com/RyanBlaney/hls-player-core/logging"
)

// ErrorType is the coarse error classification
type ErrorType string

const (
	NetworkError ErrorType = "networkError"
	MediaError   ErrorType = "mediaError"
	OtherError   ErrorType = "otherError"
)

// ErrorDetails identifies the precise failure
type ErrorDetails string

const (
	ErrManifestIncompatibleCodecs ErrorDetails = "manifestIncompatibleCodecsError"
	ErrLevelLoadError             ErrorDetails = "levelLoadError"
	ErrLevelLoadTimeout           ErrorDetails = "levelLoadTimeOut"
	ErrLevelSwitchError           ErrorDetails = "levelSwitchError"
	ErrFragLoadError              ErrorDetails = "fragLoadError"
	ErrFragLoadTimeout            ErrorDetails = "fragLoadTimeOut"
	ErrKeyLoadError               ErrorDetails = "keyLoadError"
	ErrKeyLoadTimeout             ErrorDetails = "keyLoadTimeOut"
	ErrRemuxAllocError            ErrorDetails = "remuxAllocError"
	ErrInternalException          ErrorDetails = "internalException"
)

// PlayerError represents engine errors with integrated logging. It is the
// payload carried by Error events; recovery logic keys off Type, Details and
// Fatal, never off the message text.
type PlayerError struct {
	Type    ErrorType      `json:"type"`
	Details ErrorDetails   `json:"details"`
	Fatal   bool           `json:"fatal"`
	URL     string         `json:"url,omitempty"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
	Fields  logging.Fields `json:"fields,omitempty"`
}

func (e *PlayerError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PlayerError) Unwrap() error {
	return e.Cause
}

// Log logs this error using the global logger
func (e *PlayerError) Log() {
	fields := logging.Fields{
		"error_type":    string(e.Type),
		"error_details": string(e.Details),
		"fatal":         e.Fatal,
	}
	if e.URL != "" {
		fields["url"] = e.URL
	}
	maps.Copy(fields, e.Fields)

	logging.Error(e.Cause, e.Message, fields)
}

// NewPlayerError creates a new player error
func NewPlayerError(errType ErrorType, details ErrorDetails, fatal bool, message string, cause error) *PlayerError {
	return &PlayerError{
		Type:    errType,
		Details: details,
		Fatal:   fatal,
		Message: message,
		Cause:   cause,
		Fields:  make(logging.Fields),
	}
}

// NewPlayerErrorWithFields creates a new player error with additional fields
func NewPlayerErrorWithFields(errType ErrorType, details ErrorDetails, fatal bool, message string, cause error, fields logging.Fields) *PlayerError {
	return &PlayerError{
		Type:    errType,
		Details: details,
		Fatal:   fatal,
		Message: message,
		Cause:   cause,
		Fields:  fields,
	}
}
