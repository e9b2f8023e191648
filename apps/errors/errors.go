// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package errors holds the error types returned by this module. Every failure that callers are
expected to branch on is an *Error carrying a Kind. Use errors.As() or KindOf() to inspect it:

	var e *errors.Error
	if errors.As(err, &e) && e.Kind == errors.KindExpired {
		// ask the user to start over
	}
*/
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

// Error codes that are generated locally rather than by the authorization server.
const (
	// DeviceCodeAuthorizationCodeExpired is the Code of every KindExpired error.
	DeviceCodeAuthorizationCodeExpired = "code_expired"
	// AuthorizationDeclined is the Code used when the user declined the device code request.
	AuthorizationDeclined = "authorization_declined"
	// FailedToCreateStore is the Code used when a persistence backend could not be opened.
	FailedToCreateStore = "failed_to_create_store"
	// InvalidDeviceCodeResponse is the Code used when the device code endpoint returned values we can't use.
	InvalidDeviceCodeResponse = "invalid_device_code_response"
	// CacheEntryCorrupt is the Code used for entries in storage that could not be decoded.
	CacheEntryCorrupt = "cache_entry_corrupt"
	// DeviceCodeConsumed is the Code used when a device code is polled a second time.
	DeviceCodeConsumed = "device_code_consumed"
)

// Kind is the category of an Error.
type Kind int

const (
	// KindUnknown is the zero value and is never set by this module.
	KindUnknown Kind = iota
	// KindConfiguration indicates a persistence backend or option could not be set up. Not retryable.
	KindConfiguration
	// KindService indicates the authorization server returned an error, or could not be reached.
	KindService
	// KindExpired indicates the device code expired before the user completed sign in.
	KindExpired
	// KindCancelled indicates the caller cancelled the Context while waiting.
	KindCancelled
	// KindCacheData indicates a stored entry could not be decoded.
	KindCacheData
	// KindInvalidOperation indicates an API was used in a way it does not support.
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "Configuration"
	case KindService:
		return "Service"
	case KindExpired:
		return "Expired"
	case KindCancelled:
		return "Cancelled"
	case KindCacheData:
		return "CacheData"
	case KindInvalidOperation:
		return "InvalidOperation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned for all failures a caller may want to handle.
type Error struct {
	Kind Kind
	// Code is the "error" value from the server or one of the constants in this package.
	Code string
	// Description is the server's "error_description", preserved verbatim.
	Description string

	// These are copied from the server's error body when present.
	ErrorCodes    []int
	Timestamp     string
	TraceID       string
	CorrelationID string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.Error().
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Code != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Code)
		sb.WriteString(")")
	}
	if e.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Description)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap implements the interface used by errors.Is() and errors.As().
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match for an *Error target that has the same Kind and, when the target sets one, the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Configuration returns a KindConfiguration error.
func Configuration(code string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Err: err}
}

// Service returns a KindService error.
func Service(code, description string, err error) *Error {
	return &Error{Kind: KindService, Code: code, Description: description, Err: err}
}

// Expired returns the KindExpired error for a device code.
func Expired(description string) *Error {
	return &Error{Kind: KindExpired, Code: DeviceCodeAuthorizationCodeExpired, Description: description}
}

// Cancelled returns a KindCancelled error wrapping the Context's error.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Description: "device code polling was cancelled", Err: err}
}

// CacheData returns a KindCacheData error for a stored entry that could not be decoded.
func CacheData(namespace, key string, err error) *Error {
	return &Error{Kind: KindCacheData, Code: CacheEntryCorrupt, Description: fmt.Sprintf("namespace %q key %q", namespace, key), Err: err}
}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	var v verboser
	if errors.As(err, &v) {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join is equivalent to errors.Join().
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows getting the
// http.Request and Response objects. Implements error.
type CallErr struct {
	Req *http.Request
	// Resp contains response body
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Unwrap implements the interface used by errors.Is() and errors.As().
func (e CallErr) Unwrap() error {
	return e.Err
}

// Verbose prints a versbose error message with the request or response.
func (e CallErr) Verbose() string {
	if e.Resp != nil {
		resp := *e.Resp
		resp.Request = nil // This brings in a bunch of TLS crap we don't need
		resp.TLS = nil     // Same
		e.Resp = &resp
	}
	return fmt.Sprintf("%s:\nRequest:\n%s\nResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}
