// Package ioerrors defines the IntelliOptics error taxonomy shared across
// every service process. HTTPStatus() maps a Code to an HTTP status (no
// handler in internal/api calls it; they write their statuses directly);
// queue consumers use IsPermanent to decide dead-letter vs abandon.
package ioerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	ENotFound            Code = "ENotFound"
	EConflict            Code = "EConflict"
	EBadInput            Code = "EBadInput"
	EStorageFailure      Code = "EStorageFailure"
	EQueueFailure        Code = "EQueueFailure"
	EConfigMissingModel  Code = "EConfigMissingModel"
	EBadModelOutput      Code = "EBadModelOutput"
	EInferenceTimeout    Code = "EInferenceTimeout"
	EExternalUnavailable Code = "EExternalUnavailable"
)

// Error is a structured, wrapped error carrying a taxonomy Code and the
// operation that produced it. Mirrors the Step/ErrorCode/Err shape used
// throughout the SFU package, generalized to the full taxonomy.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Code to the status code a handler should write.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ENotFound:
		return http.StatusNotFound
	case EConflict:
		return http.StatusConflict
	case EBadInput:
		return http.StatusBadRequest
	case EStorageFailure, EConfigMissingModel, EBadModelOutput, EInferenceTimeout:
		return http.StatusInternalServerError
	case EQueueFailure:
		return http.StatusInternalServerError
	case EExternalUnavailable:
		return http.StatusOK // best-effort side-effects never fail the main operation
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// IsPermanent reports whether a queue consumer should dead-letter (true)
// rather than abandon (false, eligible for redelivery) a failed message.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EBadInput, EBadModelOutput, EConfigMissingModel:
			return true
		}
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err does not wrap an Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
