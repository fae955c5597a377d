package txenv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/pkg/errors"
)

// State of the transaction lifecycle of an Environment.
//
//	Idle --test-start--> AwaitingBegin --ready--> Active --test-done--> AwaitingEnd --released--> Idle
//
// Teardown moves any state to Closed.
type State int32

const (
	StateIdle State = iota
	StateAwaitingBegin
	StateActive
	StateAwaitingEnd
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBegin:
		return "awaiting-begin"
	case StateActive:
		return "active"
	case StateAwaitingEnd:
		return "awaiting-end"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// terminationSignal tells the worker holding a physical transaction how to settle it:
// a nil outcome commits, an error rolls back. It can be fired once.
type terminationSignal struct {
	once sync.Once
	ch   chan error
}

func newTerminationSignal() *terminationSignal {
	return &terminationSignal{ch: make(chan error, 1)}
}

// Fire delivers outcome and reports whether this call was the one that fired the signal.
func (s *terminationSignal) Fire(outcome error) bool {
	fired := false
	s.once.Do(func() {
		s.ch <- outcome
		fired = true
	})

	return fired
}

func (s *terminationSignal) Done() <-chan error {
	return s.ch
}

// activeTx is the physical transaction of the running test.
type activeTx struct {
	id         string
	handle     dbx.Session
	savepoints atomic.Int64
	signal     *terminationSignal
	// done receives the result of the client Transaction call once the worker returns.
	done chan error
	// ctx ends when the transaction stops accepting statements.
	ctx context.Context

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func newActiveTx(id string) *activeTx {
	return &activeTx{id: id, signal: newTerminationSignal(), done: make(chan error, 1), ctx: context.Background()}
}

// enter registers a call forwarded to the handle. The returned context ends with ctx or with the transaction,
// whichever comes first; leave must be called once the handle returns.
func (tx *activeTx) enter(ctx context.Context) (context.Context, func(), error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		cause := context.Cause(tx.ctx)
		if cause == nil {
			cause = errorx.ErrNoActiveTransaction
		}

		return nil, nil, errors.Wrapf(cause, "transaction %s is no longer open", tx.id)
	}

	tx.inflight.Add(1)

	callCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(tx.ctx, func() {
		cancel(context.Cause(tx.ctx))
	})

	return callCtx, func() {
		stop()
		cancel(nil)
		tx.inflight.Done()
	}, nil
}

// drain refuses new calls and waits for the running ones to return. The handle is not used afterwards.
func (tx *activeTx) drain() {
	tx.mu.Lock()
	tx.closed = true
	tx.mu.Unlock()

	tx.inflight.Wait()
}

// nextSavepoint returns a savepoint name never used before in this transaction.
func (tx *activeTx) nextSavepoint() string {
	return fmt.Sprintf("%s%d", savepointPrefix, tx.savepoints.Add(1))
}
