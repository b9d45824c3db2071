// Package apperr holds the error taxonomy shared by the gateway adapter, the
// orchestrator and the HTTP layer. Every failure a caller can act on is one of
// the typed errors below; KindOf turns any error chain into a tag.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores when an insert hits a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindGateway        Kind = "gateway"
	KindGatewayParse   Kind = "gateway_parse"
	KindGatewayTimeout Kind = "gateway_timeout"
	KindPersistence    Kind = "persistence"
	KindPartialBatch   Kind = "partial_batch"
)

// ValidationError is bad, user-correctable input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func Validation(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// ConfigurationError reports a missing or invalid operator setting.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Message)
}

func Configuration(key, msg string) error { return &ConfigurationError{Key: key, Message: msg} }

// GatewayError is a request the SMS provider rejected with an error code.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// GatewayParseError is a provider response that could not be decoded. Body
// holds the raw payload for diagnostics.
type GatewayParseError struct {
	Status int
	Body   string
	Err    error
}

func (e *GatewayParseError) Error() string {
	return fmt.Sprintf("gateway response (status %d) not parseable: %v", e.Status, e.Err)
}

func (e *GatewayParseError) Unwrap() error { return e.Err }

// GatewayTimeoutError is a provider call that did not finish in time.
type GatewayTimeoutError struct {
	Err error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("gateway timeout: %v", e.Err)
}

func (e *GatewayTimeoutError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error { return &PersistenceError{Op: op, Err: err} }

// PartialBatchError is the failure of one batch among several. Siblings are
// not affected.
type PartialBatchError struct {
	Batch int
	Total int
	Err   error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch %d/%d: %v", e.Batch, e.Total, e.Err)
}

func (e *PartialBatchError) Unwrap() error { return e.Err }

// KindOf reports the most specific kind found in err's chain. A partial batch
// failure reports the kind of its cause.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		ve *ValidationError
		ce *ConfigurationError
		ge *GatewayError
		pe *GatewayParseError
		te *GatewayTimeoutError
		se *PersistenceError
		be *PartialBatchError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindConfiguration
	case errors.As(err, &ge):
		return KindGateway
	case errors.As(err, &pe):
		return KindGatewayParse
	case errors.As(err, &te):
		return KindGatewayTimeout
	case errors.As(err, &se):
		return KindPersistence
	case errors.As(err, &be):
		return KindPartialBatch
	}
	return KindUnknown
}
