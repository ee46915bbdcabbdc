package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrAmbiguous     = errors.New("ambiguous data")
	ErrMalformed     = errors.New("malformed response")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
)

// Category is the operator-facing failure class of an error.
type Category string

const (
	CategoryNone      Category = ""
	CategoryTransient Category = "transient"
	CategoryAmbiguous Category = "ambiguous"
	CategoryMalformed Category = "malformed"
	CategoryConflict  Category = "conflict"
	CategoryFatal     Category = "fatal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the failure taxonomy. Unmarked errors are
// treated as transient so the queue retries them up to its ceiling.
// Not-found counts as ambiguous: the source has no record to offer.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation):
		return CategoryFatal
	case errors.Is(err, ErrConflict):
		return CategoryConflict
	case errors.Is(err, ErrMalformed):
		return CategoryMalformed
	case errors.Is(err, ErrAmbiguous), errors.Is(err, ErrNotFound):
		return CategoryAmbiguous
	case errors.Is(err, context.Canceled):
		return CategoryNone
	default:
		return CategoryTransient
	}
}

var markers = []error{
	ErrTransient,
	ErrAmbiguous,
	ErrMalformed,
	ErrConflict,
	ErrConfiguration,
	ErrValidation,
	ErrNotFound,
}

// Marked reports whether err already carries one of the taxonomy markers.
func Marked(err error) bool {
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

// Retryable reports whether the queue should schedule another attempt.
func Retryable(err error) bool {
	switch Classify(err) {
	case CategoryTransient:
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
