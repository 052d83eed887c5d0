package updates

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the manager reports.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindNetwork
	KindParse
	KindInstallation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindInstallation:
		return "installation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against an *Error.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNetwork       = errors.New("network error")
	ErrParse         = errors.New("parse error")
	ErrInstallation  = errors.New("installation error")
)

// Error is returned by every manager operation.
type Error struct {
	Kind Kind
	Op   string
	URL  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String() + " error"
	if e.URL != "" {
		msg += " for " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindInstallation:
		return ErrInstallation
	}
	return nil
}

// KindOf returns the kind of err, or zero when err did not come from the manager.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func errorf(kind Kind, op, url, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: fmt.Errorf(format, args...)}
}
