package dbx

import (
	"context"
	"reflect"

	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/pkg/errors"
)

// TxForm is the body of a transaction: either a BatchForm or a CallbackForm.
type TxForm interface {
	isTxForm()
}

// Deferred is one operation of a BatchForm, run against the transaction's session.
type Deferred func(ctx context.Context, s Session) (any, error)

// BatchForm runs Ops in order and yields their results as []any.
// The first failing op aborts the transaction.
type BatchForm struct {
	Ops []Deferred
}

// CallbackForm hands the transaction's session to Fn and yields its result.
type CallbackForm struct {
	Fn func(ctx context.Context, s Session) (any, error)
}

func (BatchForm) isTxForm()    {}
func (CallbackForm) isTxForm() {}

// Sequence is a shortcut for a BatchForm over ops.
func Sequence(ops ...Deferred) BatchForm {
	return BatchForm{Ops: ops}
}

// Callback is a shortcut for a CallbackForm over fn.
func Callback(fn func(ctx context.Context, s Session) (any, error)) CallbackForm {
	return CallbackForm{Fn: fn}
}

// RunForm executes form against s.
func RunForm(ctx context.Context, form TxForm, s Session) (any, error) {
	switch f := form.(type) {
	case BatchForm:
		results := make([]any, 0, len(f.Ops))
		for _, op := range f.Ops {
			result, err := op(ctx, s)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}

		return results, nil
	case CallbackForm:
		if f.Fn == nil {
			return nil, errorx.ErrUnknownTxForm
		}

		return f.Fn(ctx, s)
	default:
		return nil, errorx.ErrUnknownTxForm
	}
}

// ExecOp defers an Exec. Its result is the affected row count.
func ExecOp(query string, args ...any) Deferred {
	return func(ctx context.Context, s Session) (any, error) {
		return s.Exec(ctx, query, args...)
	}
}

// QueryOp defers a Query. Its result is a []Row.
func QueryOp(query string, args ...any) Deferred {
	return func(ctx context.Context, s Session) (any, error) {
		return s.Query(ctx, query, args...)
	}
}

// QueryRowOp defers a QueryRow. Its result is a Row.
func QueryRowOp(query string, args ...any) Deferred {
	return func(ctx context.Context, s Session) (any, error) {
		return s.QueryRow(ctx, query, args...)
	}
}

// InTransaction runs fn in a transaction opened on s and returns its typed result. A session answering a
// result of another type fails with an error naming both types.
func InTransaction[T any](ctx context.Context, s Session, opts TxOptions, fn func(ctx context.Context, s Session) (T, error)) (T, error) {
	var zero T

	result, err := s.Transaction(ctx, Callback(func(ctx context.Context, s Session) (any, error) {
		return fn(ctx, s)
	}), opts)
	if err != nil {
		return zero, err
	}

	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, errors.Errorf("transaction result is %T, not %v", result, reflect.TypeFor[T]())
	}

	return typed, nil
}
