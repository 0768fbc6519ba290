package soap

import (
	"errors"
	"fmt"
	"syscall"
)

// Fault is a structured SOAP fault returned by a player. Code carries the
// vendor UPnPError/errorCode when present.
type Fault struct {
	Action      string
	FaultCode   string
	FaultString string
	Code        string
	Description string
	HTTPStatus  int
}

func (f *Fault) Error() string {
	if f.Code != "" {
		if f.Description != "" {
			return fmt.Sprintf("soap action %s rejected: upnp error %s (%s)", f.Action, f.Code, f.Description)
		}
		return fmt.Sprintf("soap action %s rejected: upnp error %s", f.Action, f.Code)
	}
	return fmt.Sprintf("soap action %s rejected: %s %s", f.Action, f.FaultCode, f.FaultString)
}

// transientCodes are vendor codes worth one bounded retry: 402 covers an
// invalid-args race during source switching, 701 a transition that is not
// yet available.
var transientCodes = map[string]bool{
	"402": true,
	"701": true,
}

// permanentCodes are vendor codes that never succeed on retry.
var permanentCodes = map[string]bool{
	"401": true,
	"600": true,
	"606": true,
	"714": true,
	"800": true,
}

// IsTransient reports whether the fault may clear on its own.
func (f *Fault) IsTransient() bool {
	if f.Code != "" {
		if transientCodes[f.Code] {
			return true
		}
		if permanentCodes[f.Code] {
			return false
		}
		return false
	}
	return f.HTTPStatus >= 500
}

// TimeoutError indicates a request exceeded its deadline.
type TimeoutError struct {
	Action string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("soap action %s timed out", e.Action)
}

// UnreachableError indicates the player could not be reached.
type UnreachableError struct {
	Action string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("soap action %s unreachable: %v", e.Action, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// ConnectionRefused reports whether the dial was actively refused, as opposed
// to timing out or failing name resolution.
func (e *UnreachableError) ConnectionRefused() bool {
	return errors.Is(e.Err, syscall.ECONNREFUSED)
}

// FaultCode extracts the vendor code from an error, if it is a Fault.
func FaultCode(err error) string {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Code
	}
	return ""
}
