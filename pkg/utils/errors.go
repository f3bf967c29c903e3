package utils

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WithStackTrace adds stack trace to the error
func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// Common error codes
const (
	ErrCodeConnection    = "CONNECTION_ERROR"
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeBlockchain    = "BLOCKCHAIN_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeProcessing    = "PROCESSING_ERROR"
)

// Drawing error codes
const (
	ErrCodeDrawingNotFound     = "DRAWING_NOT_FOUND"
	ErrCodeDrawingNotActive    = "DRAWING_NOT_ACTIVE"
	ErrCodeScanInProgress      = "SCAN_IN_PROGRESS"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeBelowMinimum        = "BELOW_MINIMUM"
	ErrCodeDuplicateSignature  = "DUPLICATE_SIGNATURE"
	ErrCodeDrawingClosed       = "DRAWING_CLOSED"
	ErrCodeOutOfWindow         = "OUT_OF_WINDOW"
	ErrCodeCapacityExceeded    = "CAPACITY_EXCEEDED"
)

// Sentinels for errors.Is comparisons against AppError codes.
var (
	ErrNotFound            = &AppError{Code: ErrCodeNotFound, Message: "Not found"}
	ErrDrawingNotFound     = &AppError{Code: ErrCodeDrawingNotFound, Message: "Drawing not found"}
	ErrDrawingNotActive    = &AppError{Code: ErrCodeDrawingNotActive, Message: "Drawing is not active"}
	ErrScanInProgress      = &AppError{Code: ErrCodeScanInProgress, Message: "Scan already in progress"}
	ErrUpstreamUnavailable = &AppError{Code: ErrCodeUpstreamUnavailable, Message: "Upstream unavailable"}
	ErrBelowMinimum        = &AppError{Code: ErrCodeBelowMinimum, Message: "USD amount below drawing minimum"}
	ErrDuplicateSignature  = &AppError{Code: ErrCodeDuplicateSignature, Message: "Signature already assigned in drawing"}
	ErrDrawingClosed       = &AppError{Code: ErrCodeDrawingClosed, Message: "Drawing is closed"}
	ErrOutOfWindow         = &AppError{Code: ErrCodeOutOfWindow, Message: "Event time outside drawing window"}
	ErrCapacityExceeded    = &AppError{Code: ErrCodeCapacityExceeded, Message: "Drawing capacity exceeded"}
)

// CodeOf returns the AppError code carried by err, or ErrCodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to the HTTP status the API answers with.
func HTTPStatus(code string) int {
	switch code {
	case ErrCodeNotFound, ErrCodeDrawingNotFound:
		return http.StatusNotFound
	case ErrCodeValidation, ErrCodeBelowMinimum, ErrCodeOutOfWindow:
		return http.StatusUnprocessableEntity
	case ErrCodeScanInProgress, ErrCodeDuplicateSignature, ErrCodeDrawingClosed,
		ErrCodeDrawingNotActive, ErrCodeCapacityExceeded:
		return http.StatusConflict
	case ErrCodeUpstreamUnavailable, ErrCodeConnection, ErrCodeBlockchain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
