package lifecycle

import (
	"errors"
	"fmt"
)

const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindStorage    = "storage"
)

// ErrorClassifier lets callers map engine errors to responses without type switches.
type ErrorClassifier interface {
	Kind() string
}

// ValidationError reports malformed or missing input. Field uses the JSON path of the
// offending value, e.g. "colors[1].hex"; it is empty when the request shape as a whole
// is wrong.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() string { return KindValidation }

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("character %s not found", e.ID)
}

func (e *NotFoundError) Kind() string { return KindNotFound }

// StorageError wraps a persistence failure. It is never retried by the engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Kind() string { return KindStorage }

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.Kind()
	}
	return ""
}
