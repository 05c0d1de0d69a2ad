package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrNotFound              = fmt.Errorf("not found")
	ErrForbidden             = fmt.Errorf("forbidden")
	ErrUnauthorized          = fmt.Errorf("unauthorized")
	ErrConflict              = fmt.Errorf("conflict")
	ErrValidation            = fmt.Errorf("validation failed")
	ErrRateLimited           = fmt.Errorf("rate limited")
	ErrTransient             = fmt.Errorf("transient failure")
	ErrStorage               = fmt.Errorf("storage failure")
	ErrSameParticipant       = fmt.Errorf("cannot start a conversation with yourself")
	ErrPropertyRequired      = fmt.Errorf("property id is required for a property conversation")
	ErrPropertyNotAllowed    = fmt.Errorf("community conversations cannot reference a property")
	ErrEmptyMessage          = fmt.Errorf("message needs a body or at least one attachment")
	ErrAttachmentUnavailable = fmt.Errorf("attachment cannot be bound to this message")
	ErrUnsupportedMedia      = fmt.Errorf("unsupported media type")
	ErrTooLarge              = fmt.Errorf("file too large")
	ErrSlowConsumer          = fmt.Errorf("subscriber too slow, updates dropped")
	ErrSubscriptionClosed    = fmt.Errorf("subscription closed")
	ErrInvalidCursor         = fmt.Errorf("invalid cursor")
	ErrInvalidSignature      = fmt.Errorf("invalid or expired signature")
)

// Is forwards to the standard library so callers only import one errors package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As forwards to the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }

// MapToHTTPStatus translates the error taxonomy into a response status.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrUnauthorized), Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case Is(err, ErrForbidden):
		return http.StatusForbidden
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrConflict):
		return http.StatusConflict
	case Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case Is(err, ErrSameParticipant),
		Is(err, ErrPropertyRequired),
		Is(err, ErrPropertyNotAllowed),
		Is(err, ErrEmptyMessage),
		Is(err, ErrAttachmentUnavailable),
		Is(err, ErrInvalidCursor),
		Is(err, ErrValidation):
		return http.StatusBadRequest
	case Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is the client-side inverse of MapToHTTPStatus.
func FromHTTPStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusUnsupportedMediaType:
		return ErrUnsupportedMedia
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrTransient
	default:
		if status >= http.StatusInternalServerError {
			return ErrStorage
		}
		return nil
	}
}
