package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Kind classifies gateway errors for HTTP surfacing.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_FAILED"
	KindRoomNotFound        Kind = "ROOM_NOT_FOUND"
	KindPresetNotFound      Kind = "PRESET_NOT_FOUND"
	KindFavoriteNotFound    Kind = "FAVORITE_NOT_FOUND"
	KindStationNotFound     Kind = "STATION_NOT_FOUND"
	KindAuthRequired        Kind = "AUTH_REQUIRED"
	KindServiceUnconfigured Kind = "SERVICE_UNCONFIGURED"
	KindNotImplemented      Kind = "NOT_IMPLEMENTED"
	KindUPnPTransient       Kind = "UPNP_TRANSIENT"
	KindUPnPPermanent       Kind = "UPNP_PERMANENT"
	KindStereoPair          Kind = "STEREO_PAIR_PROTECTED"
	KindLibraryNotReady     Kind = "LIBRARY_NOT_READY"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error is the gateway error type carried from components to the HTTP layer.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: status}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), StatusCode: http.StatusBadRequest}
}

func RoomNotFound(room string) *Error {
	return &Error{Kind: KindRoomNotFound, Message: fmt.Sprintf("room not found: %s", room), StatusCode: http.StatusNotFound}
}

func PresetNotFound(name string) *Error {
	return &Error{Kind: KindPresetNotFound, Message: fmt.Sprintf("preset not found: %s", name), StatusCode: http.StatusNotFound}
}

func FavoriteNotFound(name string) *Error {
	return &Error{Kind: KindFavoriteNotFound, Message: fmt.Sprintf("favorite not found: %s", name), StatusCode: http.StatusNotFound}
}

func PlaylistNotFound(name string) *Error {
	return &Error{Kind: KindFavoriteNotFound, Message: fmt.Sprintf("playlist not found: %s", name), StatusCode: http.StatusNotFound}
}

func StationNotFound(name string) *Error {
	return &Error{Kind: KindStationNotFound, Message: fmt.Sprintf("station not found: %s", name), StatusCode: http.StatusNotFound}
}

func AuthRequired() *Error {
	return &Error{Kind: KindAuthRequired, Message: "authentication required", StatusCode: http.StatusUnauthorized}
}

func ServiceUnconfigured(service string) *Error {
	return &Error{Kind: KindServiceUnconfigured, Message: fmt.Sprintf("service not configured: %s", service), StatusCode: http.StatusServiceUnavailable}
}

func NotImplemented(what string) *Error {
	return &Error{Kind: KindNotImplemented, Message: fmt.Sprintf("not implemented: %s", what), StatusCode: http.StatusNotImplemented}
}

func StereoPairProtected(room string) *Error {
	return &Error{
		Kind:       KindStereoPair,
		Message:    fmt.Sprintf("Cannot break stereo pair %q; unpair the speakers in the Sonos app instead", room),
		StatusCode: http.StatusBadRequest,
	}
}

func LibraryNotReady() *Error {
	return &Error{Kind: KindLibraryNotReady, Message: "music library index not ready", StatusCode: http.StatusServiceUnavailable}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", StatusCode: http.StatusInternalServerError, Err: err}
}

// upnpStatusCodes maps vendor UPnP error codes to HTTP statuses. 701 and some
// 402 responses are retried upstream; if they still surface here they indicate
// a state conflict rather than a malformed request.
var upnpStatusCodes = map[string]int{
	"401":  http.StatusInternalServerError,
	"402":  http.StatusBadRequest,
	"600":  http.StatusInternalServerError,
	"606":  http.StatusInternalServerError,
	"701":  http.StatusConflict,
	"714":  http.StatusNotFound,
	"718":  http.StatusConflict,
	"800":  http.StatusConflict,
	"1023": http.StatusConflict,
}

// FromUPnP maps a vendor error code to a gateway error.
func FromUPnP(code, description string, transient bool) *Error {
	status, ok := upnpStatusCodes[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	kind := KindUPnPPermanent
	if transient {
		kind = KindUPnPTransient
	}
	msg := fmt.Sprintf("device rejected action: upnp error %s", code)
	if description != "" {
		msg = fmt.Sprintf("%s (%s)", msg, description)
	}
	return &Error{Kind: kind, Message: msg, StatusCode: status}
}

// Ensure converts an arbitrary error into an *Error for the HTTP layer.
// SOAP faults carrying a vendor code go through the UPnP status table.
func Ensure(err error) *Error {
	if err == nil {
		return Internal(nil)
	}
	if appErr, ok := err.(*Error); ok {
		return appErr
	}
	var fault *soap.Fault
	if errors.As(err, &fault) && fault.Code != "" {
		mapped := FromUPnP(fault.Code, fault.Description, fault.IsTransient())
		mapped.Err = fault
		return mapped
	}
	return &Error{Kind: KindInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError, Err: err}
}
