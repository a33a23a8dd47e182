// Package apperror defines the coded errors shared by the transcription
// pipeline, the billing ingestor and the HTTP API.
package apperror

import (
	"errors"
	"fmt"
)

// Code identifies a failure category that callers can act on.
type Code string

const (
	UnsupportedFormat        Code = "unsupported_format"
	PayloadTooLarge          Code = "payload_too_large"
	DurationUnavailable      Code = "duration_unavailable"
	DurationExceeded         Code = "duration_exceeded"
	EngineBusy               Code = "engine_busy"
	TranscriptionFailed      Code = "transcription_failed"
	ArtifactGenerationFailed Code = "artifact_generation_failed"
	SignatureInvalid         Code = "signature_invalid"
	Timeout                  Code = "timeout"
	Internal                 Code = "internal"
)

// Error is a coded error. Message and Details are safe to show to clients;
// Err carries the underlying cause for logs only.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// New returns an Error with the given code and client-facing message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap returns an Error that keeps err as its cause.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// With attaches a structured detail and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so callers can write
// errors.Is(err, apperror.New(apperror.EngineBusy, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
