package extract

import (
	"context"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

type Kind int

const (
	KindOk Kind = iota
	KindRetryable
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindTerminal:
		return "terminal"
	}
	return "unknown"
}

// Result is the outcome of one external call: a value, or an error that is
// either worth retrying or final.
type Result[T any] struct {
	Value T
	Kind  Kind
	Err   error
}

func Ok[T any](v T) Result[T] { return Result[T]{Value: v, Kind: KindOk} }

func Retryable[T any](err error) Result[T] { return Result[T]{Kind: KindRetryable, Err: err} }

func Terminal[T any](err error) Result[T] { return Result[T]{Kind: KindTerminal, Err: err} }

// Unwrap converts the result to Go's value/error pair. Terminal errors are
// marked with common.Terminal so callers up the stack can stop retrying.
func (r Result[T]) Unwrap() (T, error) {
	switch r.Kind {
	case KindOk:
		return r.Value, nil
	case KindTerminal:
		var zero T
		return zero, common.Terminal(r.Err)
	default:
		var zero T
		return zero, r.Err
	}
}

type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	Base       time.Duration // wait before retry n is Base * 2^(n-1)
}

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls fn until it returns Ok or Terminal, or until MaxRetries retries
// have been spent. The last Retryable result is returned when retries run out.
// A cancelled ctx stops the loop and is reported as Retryable.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context, attempt int) Result[T]) Result[T] {
	var res Result[T]
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Retryable[T](err)
		}
		res = fn(ctx, attempt)
		if res.Kind != KindRetryable {
			return res
		}
		if attempt < rc.MaxRetries {
			if err := sleep(ctx, rc.Base<<attempt); err != nil {
				return Retryable[T](err)
			}
		}
	}
	return res
}
