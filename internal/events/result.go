package events

import (
	"context"
	"errors"
)

// Kind tags a handler result.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is what a handler reports back to the processor. The processor decides
// between retry and dead letter from Kind and the attempt counter only.
type Result struct {
	Kind   Kind
	Reason string
}

func Success() Result { return Result{Kind: KindSuccess} }

func Retryable(reason string) Result { return Result{Kind: KindRetryable, Reason: reason} }

func Terminal(reason string) Result { return Result{Kind: KindTerminal, Reason: reason} }

// Handler processes one event payload. It must tolerate being called more than once
// for the same event.
type Handler func(ctx context.Context, payload map[string]any) Result

// TerminalError marks an error that retrying cannot fix.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Permanent wraps err as a TerminalError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// FromError maps a plain error to a Result: nil is success, a TerminalError is terminal,
// anything else is retryable.
func FromError(err error) Result {
	if err == nil {
		return Success()
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return Terminal(err.Error())
	}
	return Retryable(err.Error())
}

// HandlerFunc adapts an error returning function into a Handler.
func HandlerFunc(fn func(ctx context.Context, payload map[string]any) error) Handler {
	return func(ctx context.Context, payload map[string]any) Result {
		return FromError(fn(ctx, payload))
	}
}
