package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrTransient is retried by Retry.
	ErrTransient = errors.New("transient provider error")
	// ErrPermissionDenied degrades an optional resource kind to empty.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotSupported degrades an optional resource kind to empty.
	ErrNotSupported = errors.New("not supported")
	// ErrConfiguration aborts the crawl of one account.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence marks a single failed row; the batch carries on.
	ErrPersistence = errors.New("persistence error")
)

// Error is a classified failure of one operation.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as ErrTransient.
func Transient(op string, err error) error { return Wrap(ErrTransient, op, err) }

// PermissionDenied wraps err as ErrPermissionDenied.
func PermissionDenied(op string, err error) error { return Wrap(ErrPermissionDenied, op, err) }

// NotSupported wraps err as ErrNotSupported.
func NotSupported(op string, err error) error { return Wrap(ErrNotSupported, op, err) }

// Configuration wraps err as ErrConfiguration.
func Configuration(op string, err error) error { return Wrap(ErrConfiguration, op, err) }

// Persistence wraps err as ErrPersistence.
func Persistence(op string, err error) error { return Wrap(ErrPersistence, op, err) }

// IsDegradable reports whether an optional resource kind may swallow err and
// return an empty result.
func IsDegradable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNotSupported)
}

// IsCancelled reports whether err comes from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
