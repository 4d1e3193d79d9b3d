// Package gwerr holds the small shared error types that cross package
// boundaries on their way to an API response.
package gwerr

import (
	"errors"
	"fmt"
)

// ErrNotFound marks unknown agents, tenants and routes; handlers map it
// to 404.
var ErrNotFound = errors.New("not found")

// ValidationError is a caller mistake worth a descriptive 400 body.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("'%s' %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("'%s' is required", e.Field)
}

// Missing reports a required field absent from the request.
func Missing(field string) error {
	return &ValidationError{Field: field}
}

// Invalid reports a malformed field value.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DeliveryError wraps a provider call failure. For inbound routing it
// degrades to a dead-letter enqueue; for agent-initiated sends it is
// surfaced as a failed action.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Delivery wraps err as a DeliveryError; nil stays nil.
func Delivery(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Op: op, Err: err}
}
