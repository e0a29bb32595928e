// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolgw

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Code identifies a failure class in the tool subsystem. Codes are stable
// strings suitable for UI display and log filtering.
type Code string

const (
	CodeNetwork         Code = "NETWORK"
	CodeHTTP4xx         Code = "HTTP_4XX"
	CodeHTTP5xx         Code = "HTTP_5XX"
	CodeSubmitFailed    Code = "TOOL_SUBMIT_FAILED"
	CodeTaskTimeout     Code = "TASK_TIMEOUT"
	CodeTaskCancelled   Code = "TASK_CANCELLED"
	CodeTaskFailed      Code = "TASK_FAILED"
	CodeInvalidResponse Code = "INVALID_RESPONSE"
	CodeUnknown         Code = "UNKNOWN"
)

// retriableCodes marks which failure classes are worth retrying. Everything
// absent from the map is non-retriable.
var retriableCodes = map[Code]bool{
	CodeNetwork:     true,
	CodeHTTP5xx:     true,
	CodeTaskTimeout: true,
}

// Error is the typed failure returned by every client and orchestrator
// operation. Status and Detail are populated only for HTTP-level failures.
type Error struct {
	Code      Code
	Message   string
	Retriable bool
	Status    int
	Detail    string
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tool error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("tool error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two tool errors by code, so callers can write
// errors.Is(err, &Error{Code: CodeTaskTimeout}).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Code == e.Code
}

// newError builds an Error with the retriable flag derived from the code.
func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retriable: retriableCodes[code]}
}

// wrapError is newError with a cause attached.
func wrapError(code Code, message string, cause error) *Error {
	e := newError(code, message)
	e.cause = cause
	return e
}

// statusError classifies an HTTP status line into the taxonomy. Unparsable
// error bodies degrade gracefully: detail is whatever text was available.
func statusError(status int, detail string) *Error {
	code := CodeHTTP4xx
	if status >= 500 {
		code = CodeHTTP5xx
	}
	e := newError(code, fmt.Sprintf("host returned HTTP %d", status))
	e.Status = status
	e.Detail = detail
	return e
}

// Classify maps an arbitrary error into the taxonomy. Errors that are already
// typed pass through unchanged. For opaque host errors the message text is
// the only signal, so "timeout"/"cancel" substrings decide the class before
// falling back to UNKNOWN.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrapError(CodeTaskTimeout, err.Error(), err)
	}
	if errors.Is(err, context.Canceled) {
		return wrapError(CodeTaskCancelled, err.Error(), err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return wrapError(CodeTaskTimeout, err.Error(), err)
	case strings.Contains(msg, "cancel"):
		return wrapError(CodeTaskCancelled, err.Error(), err)
	}
	return wrapError(CodeUnknown, err.Error(), err)
}
