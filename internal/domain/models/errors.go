package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a symbol unknown to the provider. Never retried or cached.
	ErrNotFound = errors.New("symbol not found")
	// ErrUnavailable marks a transient upstream failure: network, rate limit, timeout.
	ErrUnavailable = errors.New("upstream unavailable")
)

// SourceError is a classified provider error. errors.Is matches both Kind and Err.
type SourceError struct {
	Source string
	Symbol string
	Kind   error
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Symbol, e.Kind)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds a NotFound error for source/symbol.
func NotFound(source, symbol string, err error) error {
	return &SourceError{Source: source, Symbol: symbol, Kind: ErrNotFound, Err: err}
}

// Unavailable builds an Unavailable error for source/symbol.
func Unavailable(source, symbol string, err error) error {
	return &SourceError{Source: source, Symbol: symbol, Kind: ErrUnavailable, Err: err}
}

// IsNotFound reports whether err is classified NotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable reports whether err is classified Unavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
