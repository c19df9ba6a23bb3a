// Package apperr holds the error taxonomy shared by the flash promo core.
// Errors are created with a detailed message and marked with one of the
// sentinels below, so callers classify with errors.Is.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("already reserved or promo inactive")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrExpired    = errors.New("reservation expired")
	ErrTransient  = errors.New("transient store error")
	ErrFatal      = errors.New("fatal")
)

func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func Conflict(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func Forbidden(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrForbidden)
}

func Expired(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrExpired)
}

// Transient wraps a store or queue failure that survived its retry budget.
func Transient(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrTransient)
}

// Fatal marks a unit of work that will not be retried again.
func Fatal(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrFatal)
}

// Kind returns the taxonomy name of err, "internal" when unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "internal"
	}
}

// HTTPStatus maps err onto the status code the API layer answers with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "validation":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "expired":
		return http.StatusGone
	case "transient":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
