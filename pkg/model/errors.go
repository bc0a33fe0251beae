package model

import (
	"errors"
	"fmt"
)

// Kind classifies a StoreError into one of a closed set of causes, so
// callers can branch on failure category without string-matching messages.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindInvalidArgument    Kind = "invalid_argument"
	KindIndexCorrupt       Kind = "index_corrupt"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindConflict           Kind = "conflict"
	KindCancelled          Kind = "cancelled"
	KindTimeout            Kind = "timeout"
	KindTransaction        Kind = "transaction"
	KindUnsupportedVersion Kind = "unsupported_version"
)

// Sentinel errors. Use errors.Is against these; use ErrorKind when you
// need to report or log the failure category for an error that may have
// been wrapped along the way.
var (
	ErrNotFound           = errors.New("model: not found")
	ErrAlreadyExists      = errors.New("model: already exists")
	ErrInvalidArgument    = errors.New("model: invalid argument")
	ErrIndexCorrupt       = errors.New("model: index corrupt")
	ErrStorageUnavailable = errors.New("model: storage unavailable")
	ErrConflict           = errors.New("model: conflict")
	ErrCancelled          = errors.New("model: cancelled")
	ErrTimeout            = errors.New("model: timeout")
	ErrUnsupportedVersion = errors.New("model: unsupported version")
)

// StoreError wraps a sentinel with operation context while preserving
// errors.Is/errors.As compatibility through Unwrap.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *StoreError) Unwrap() error { return e.Err }

var sentinelByKind = map[Kind]error{
	KindNotFound:           ErrNotFound,
	KindAlreadyExists:      ErrAlreadyExists,
	KindInvalidArgument:    ErrInvalidArgument,
	KindIndexCorrupt:       ErrIndexCorrupt,
	KindStorageUnavailable: ErrStorageUnavailable,
	KindConflict:           ErrConflict,
	KindCancelled:          ErrCancelled,
	KindTimeout:            ErrTimeout,
	KindUnsupportedVersion: ErrUnsupportedVersion,
}

// NewError builds a StoreError of the given kind, wrapping the sentinel
// for that kind so errors.Is(err, model.ErrNotFound) keeps working even
// through an Op-annotated wrapper.
func NewError(kind Kind, op string, cause error) *StoreError {
	sentinel, ok := sentinelByKind[kind]
	if !ok {
		sentinel = errors.New(string(kind))
	}
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %v", sentinel, cause)
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// ErrorKind extracts the Kind from err if it is, or wraps, a *StoreError.
func ErrorKind(err error) (Kind, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// TransactionError reports that a transaction failed and carries both the
// triggering cause and every error encountered while compensating already
// -applied operations during rollback.
type TransactionError struct {
	Cause              error
	CompensationErrors []error
}

func (e *TransactionError) Error() string {
	if len(e.CompensationErrors) == 0 {
		return fmt.Sprintf("transaction failed: %v", e.Cause)
	}
	return fmt.Sprintf("transaction failed: %v (plus %d compensation error(s))", e.Cause, len(e.CompensationErrors))
}

func (e *TransactionError) Unwrap() error { return e.Cause }

func (e *TransactionError) Is(target error) bool {
	return target == ErrConflict && errors.Is(e.Cause, ErrConflict)
}
