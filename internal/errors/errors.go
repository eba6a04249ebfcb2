package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Monitoring and selection errors
	ErrCodeStatsRetrieval ErrorCode = "STATS_RETRIEVAL_FAILED"
	ErrCodeNoServers      ErrorCode = "NO_SERVERS_AVAILABLE"

	// Frame codec errors
	ErrCodeFrameDecode ErrorCode = "FRAME_DECODE_FAILED"
	ErrCodeFrameEncode ErrorCode = "FRAME_ENCODE_FAILED"

	// Switch directive errors
	ErrCodeFlowInstall ErrorCode = "FLOW_INSTALL_FAILED"
	ErrCodePacketOut   ErrorCode = "PACKET_OUT_FAILED"
	ErrCodeSwitchState ErrorCode = "SWITCH_NOT_READY"
	ErrCodeUnknown     ErrorCode = "UNKNOWN_SWITCH"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons. Matching is done on the code only.
var (
	ErrStatsRetrieval = &ControllerError{Code: ErrCodeStatsRetrieval}
	ErrNoServers      = &ControllerError{Code: ErrCodeNoServers}
	ErrFrameDecode    = &ControllerError{Code: ErrCodeFrameDecode}
	ErrFrameEncode    = &ControllerError{Code: ErrCodeFrameEncode}
	ErrFlowInstall    = &ControllerError{Code: ErrCodeFlowInstall}
	ErrPacketOut      = &ControllerError{Code: ErrCodePacketOut}
	ErrSwitchNotReady = &ControllerError{Code: ErrCodeSwitchState}
	ErrUnknownSwitch  = &ControllerError{Code: ErrCodeUnknown}
	ErrInvalidConfig  = &ControllerError{Code: ErrCodeInvalidConfig}
	ErrConfigLoad     = &ControllerError{Code: ErrCodeConfigLoad}
)

// ControllerError represents a structured error with context
type ControllerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *ControllerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *ControllerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *ControllerError) Is(target error) bool {
	if t, ok := target.(*ControllerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *ControllerError) WithMetadata(key string, value interface{}) *ControllerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by retrying.
// Nothing in the controller retries on its own; callers decide.
func (e *ControllerError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeStatsRetrieval, ErrCodeSwitchState:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ControllerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidConfig, ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeUnknown:
		return http.StatusNotFound
	case ErrCodeSwitchState:
		return http.StatusConflict
	case ErrCodeNoServers:
		return http.StatusServiceUnavailable
	case ErrCodeStatsRetrieval:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new ControllerError
func NewError(code ErrorCode, component, message string) *ControllerError {
	return &ControllerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with ControllerError structure
func WrapError(err error, code ErrorCode, component, message string) *ControllerError {
	if err == nil {
		return nil
	}

	return &ControllerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// NewStatsRetrievalError creates an error for an unusable monitoring response
func NewStatsRetrievalError(endpoint string, cause error) *ControllerError {
	var err *ControllerError
	if cause == nil {
		err = NewError(ErrCodeStatsRetrieval, "stats_client", "cannot retrieve server statistics")
	} else {
		err = WrapError(cause, ErrCodeStatsRetrieval, "stats_client", "cannot retrieve server statistics")
	}
	return err.WithMetadata("endpoint", endpoint)
}

// NewNoServersError creates an error for an empty server snapshot
func NewNoServersError() *ControllerError {
	return NewError(ErrCodeNoServers, "load_balancer", "monitoring returned no servers")
}

// NewSwitchNotReadyError is returned for packet events on a switch that has not
// completed configuration
func NewSwitchNotReadyError(dpid uint64, state string) *ControllerError {
	return NewError(
		ErrCodeSwitchState,
		"controller",
		fmt.Sprintf("switch %016x is %s", dpid, state),
	).WithMetadata("dpid", dpid)
}

// NewUnknownSwitchError is returned when a datapath id has never connected
func NewUnknownSwitchError(dpid uint64) *ControllerError {
	return NewError(
		ErrCodeUnknown,
		"controller",
		fmt.Sprintf("switch %016x is not known", dpid),
	).WithMetadata("dpid", dpid)
}

// NewDirectiveError wraps a transport failure for a flow-mod or packet-out
func NewDirectiveError(code ErrorCode, dpid uint64, cause error) *ControllerError {
	return WrapError(cause, code, "flow_table", "directive rejected by datapath").
		WithMetadata("dpid", dpid)
}

// IsControllerError checks if an error is a ControllerError
func IsControllerError(err error) bool {
	var cErr *ControllerError
	return errors.As(err, &cErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var cErr *ControllerError
	if errors.As(err, &cErr) {
		return cErr.Code
	}
	return ErrCodeInternalError
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var cErr *ControllerError
	if errors.As(err, &cErr) {
		return cErr.IsRetryable()
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var cErr *ControllerError
	if errors.As(err, &cErr) {
		return cErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
