// Package txenv runs every test inside its own database transaction.
//
// An Environment opens one physical transaction when a test starts, hands the test a ScopedClient bound to it,
// and rolls the transaction back (or commits it, when rollback is disabled) when the test ends, skipped tests
// included. Nested transactions issued by application code are emulated with savepoints.
//
//	var env = txenv.New(configx.DefaultSessionConfig())
//
//	func TestMain(m *testing.M) { os.Exit(env.RunMain(m)) }
//
//	func TestCreateUser(t *testing.T) {
//	    db := env.Test(t)
//	    // writes through db are rolled back when the test ends
//	}
package txenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcodd23/go-txscope/pkg/configx"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/shutdown"
	"github.com/marcodd23/go-txscope/pkg/utilx"
	pkgerrors "github.com/pkg/errors"
)

// Globals are published once the environment is set up.
type Globals struct {
	// Client is bound to the transaction of the running test.
	Client *ScopedClient
	// OriginalClient is the unscoped client, for suite level setup and teardown.
	OriginalClient dbx.Client
}

// Environment - transaction lifecycle manager of a test process. One test runs at a time.
type Environment struct {
	cfg      configx.SessionConfig
	custom   dbx.Client
	testPath string
	printer  logx.QueryPrinter

	// mu serialises setup, lifecycle events and teardown.
	mu          sync.Mutex
	state       atomic.Int32
	client      dbx.Client
	connected   bool
	subscribed  bool
	setupErr    error
	globals     *Globals
	scoped      *ScopedClient
	current     *activeTx
	queries     *queryLog
	teardownErr error
}

// New - Environment constructor. Nothing is connected before Setup or the first test.
func New(cfg configx.SessionConfig, opts ...Option) *Environment {
	e := &Environment{
		cfg:     cfg,
		scoped:  newScopedClient(savepointEmulator{enabled: cfg.EmulatesSavepoints()}),
		queries: &queryLog{},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.printer == nil {
		e.printer = logx.NewQueryPrinter(os.Stdout, cfg.IsLocalEnvironment())
	}

	return e
}

// State returns the current lifecycle state.
func (e *Environment) State() State {
	return State(e.state.Load())
}

func (e *Environment) setState(s State) {
	e.state.Store(int32(s))
}

// Client returns the scoped client. It is usable only while a test runs.
func (e *Environment) Client() *ScopedClient {
	return e.scoped
}

// OriginalClient returns the unscoped client, nil before Setup.
func (e *Environment) OriginalClient() dbx.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.client
}

// Setup connects the client, subscribes the query log and checks the client can hold a test transaction open.
// It runs once; later calls return the same Globals, or the error of the failed attempt without touching the
// client again. Errors are *errorx.ConfigurationError and abort the run.
func (e *Environment) Setup(ctx context.Context) (*Globals, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.setupLocked(ctx)
}

func (e *Environment) setupLocked(ctx context.Context) (*Globals, error) {
	if e.State() == StateClosed {
		return nil, errorx.NewInvalidStateError(StateClosed, "setup")
	}

	if e.globals != nil {
		return e.globals, nil
	}

	if e.setupErr != nil {
		return nil, e.setupErr
	}

	globals, err := e.connectAndProbe(ctx)
	if err != nil {
		e.setupErr = err
		return nil, err
	}

	e.globals = globals

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("transactional test environment ready: rollback=%t savepoints=%t verbose=%t",
		!e.cfg.DisableRollback, e.cfg.EmulatesSavepoints(), e.cfg.VerboseQuery))

	return e.globals, nil
}

func (e *Environment) connectAndProbe(ctx context.Context) (*Globals, error) {
	if err := configx.Validate(e.cfg); err != nil {
		return nil, err
	}

	client, err := e.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	if !e.connected {
		if err := client.Connect(ctx); err != nil {
			return nil, errorx.NewConfigurationErrorWrapper(err, "unable to connect the client")
		}
		e.client = client
		e.connected = true
	}

	if !e.subscribed {
		if err := client.SubscribeQueryEvents(e.queries.record); err != nil {
			if e.cfg.VerboseQuery {
				return nil, errorx.NewConfigurationErrorWrapper(err, "verboseQuery is set but the client does not publish query events")
			}
			logx.GetLogger().LogDebug(ctx, fmt.Sprintf("query events unavailable: %v", err))
		} else {
			e.subscribed = true
		}
	}

	if err := e.probe(ctx); err != nil {
		return nil, err
	}

	e.scoped.original = client

	return &Globals{Client: e.scoped, OriginalClient: client}, nil
}

func (e *Environment) resolveClient(ctx context.Context) (dbx.Client, error) {
	if e.custom != nil {
		if missing := dbx.TransactionalOps &^ e.custom.Capabilities(); missing != 0 {
			return nil, errorx.NewConfigurationError("custom client %T is not a transactional client: missing %s", e.custom, missing)
		}

		return e.custom, nil
	}

	return dbx.NewClient(ctx, e.cfg.ClientPath, dbx.ConnConfig{
		DatabaseURL:        e.cfg.DatabaseURL,
		MaxConn:            1,
		IsLocalEnv:         e.cfg.IsLocalEnvironment(),
		PreparedStatements: dbx.PreparedStatementsFrom(e.cfg.PreparedStatements),
	})
}

// probe opens and rolls back one transaction, with a savepoint inside when savepoints are emulated.
func (e *Environment) probe(ctx context.Context) error {
	emulate := e.cfg.EmulatesSavepoints()

	_, err := e.client.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
		if emulate {
			if _, err := s.ExecRaw(ctx, "SAVEPOINT "+probeSavepoint); err != nil {
				return nil, err
			}
			if _, err := s.ExecRaw(ctx, "RELEASE SAVEPOINT "+probeSavepoint); err != nil {
				return nil, err
			}
		}

		return nil, errorx.ErrRollbackRequested
	}), e.txOptions())

	if err != nil && !errors.Is(err, errorx.ErrRollbackRequested) {
		what := "interactive transactions"
		if emulate {
			what = "interactive transactions with savepoints"
		}

		return errorx.NewConfigurationErrorWrapper(err, "the client does not support %s, tests cannot be isolated", what)
	}

	return nil
}

func (e *Environment) txOptions() dbx.TxOptions {
	return dbx.TxOptions{
		MaxWait:        e.cfg.MaxWait,
		Timeout:        e.cfg.Timeout,
		IsolationLevel: dbx.IsolationLevel(e.cfg.IsolationLevel),
	}
}

// HandleTestEvent moves the lifecycle forward. Events must alternate as
// test-start, test-fn-start, test-fn-success|failure, test-done|skip|todo; an event arriving in a state that
// cannot take it returns *errorx.InvalidStateError.
func (e *Environment) HandleTestEvent(ctx context.Context, event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == StateClosed {
		return errorx.NewInvalidStateError(StateClosed, event.Kind.String())
	}

	switch event.Kind {
	case EventSuiteStart:
		_, err := e.setupLocked(ctx)
		return err
	case EventTestStart:
		return e.begin(ctx, event)
	case EventTestFnStart:
		e.queries.start()
		return nil
	case EventTestFnSuccess, EventTestFnFailure:
		e.flushQueries(event.Test)
		return nil
	case EventTestDone, EventTestSkip, EventTestTodo:
		return e.end(ctx, event)
	default:
		return pkgerrors.Errorf("unknown test event %s", event.Kind)
	}
}

// begin opens the physical transaction of a test on a worker goroutine and returns once the scoped client is bound.
func (e *Environment) begin(ctx context.Context, event Event) error {
	if _, err := e.setupLocked(ctx); err != nil {
		return err
	}

	if state := e.State(); state != StateIdle {
		return errorx.NewInvalidStateError(state, event.Kind.String())
	}
	e.setState(StateAwaitingBegin)

	tx := newActiveTx(utilx.ShortID())
	ready := make(chan struct{})

	// The transaction outlives the caller of begin: it is released by end.
	workerCtx := context.WithoutCancel(ctx)

	go func() {
		_, err := e.client.Transaction(workerCtx, dbx.Callback(func(txCtx context.Context, s dbx.Session) (any, error) {
			scopeCtx, cancel := context.WithCancelCause(txCtx)
			defer cancel(nil)

			tx.handle = s
			tx.ctx = scopeCtx
			e.scoped.bind(tx)
			close(ready)

			var outcome error
			select {
			case outcome = <-tx.signal.Done():
			case <-txCtx.Done():
				outcome = txCtx.Err()
			}

			// Calls still running on the handle are cancelled and awaited: the handle is settled once we return.
			cancel(errorx.ErrNoActiveTransaction)
			tx.drain()

			return nil, outcome
		}), e.txOptions())

		tx.done <- err
	}()

	select {
	case <-ready:
		e.current = tx
		e.setState(StateActive)
		logx.GetLogger().LogDebug(ctx, fmt.Sprintf("test transaction %s begun for %s", tx.id, event.Test.Name))

		return nil
	case err := <-tx.done:
		e.setState(StateIdle)
		if err == nil {
			err = errorx.NewGeneralError("transaction of %s ended before the test started", event.Test.Name)
		}
		logx.GetLogger().LogError(ctx, fmt.Sprintf("unable to begin the test transaction for %s", event.Test.Name), err)

		return err
	}
}

// end settles the transaction of the running test and waits for the worker to release the connection.
// The controlled rollback is not an error; a timeout or a failed commit is.
func (e *Environment) end(ctx context.Context, event Event) error {
	switch state := e.State(); state {
	case StateIdle:
		// Nothing began: the test was skipped before it started.
		return nil
	case StateActive:
	default:
		return errorx.NewInvalidStateError(state, event.Kind.String())
	}
	e.setState(StateAwaitingEnd)

	tx := e.current
	e.scoped.unbind(tx)

	var outcome error = errorx.ErrRollbackRequested
	if e.cfg.DisableRollback {
		outcome = nil
	}
	tx.signal.Fire(outcome)

	err := <-tx.done
	e.current = nil
	e.setState(StateIdle)

	if err != nil && !errors.Is(err, errorx.ErrRollbackRequested) {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("test transaction %s of %s did not settle cleanly", tx.id, event.Test.Name), err)
		return err
	}

	action := "rolled back"
	if e.cfg.DisableRollback {
		action = "committed"
	}
	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("test transaction %s %s for %s (%s)", tx.id, action, event.Test.Name, event.Kind))

	return nil
}

func (e *Environment) flushQueries(test TestEntry) {
	events := e.queries.drain()
	if !e.cfg.VerboseQuery || len(events) == 0 {
		return
	}

	e.printer.PrintQueries(Breadcrumb(e.testPath, test), toRecords(events))
}

// Teardown ends a dangling test transaction and disconnects the client, once. Later calls return the first result.
func (e *Environment) Teardown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == StateClosed {
		return e.teardownErr
	}

	var errs []error
	if e.State() == StateActive {
		errs = append(errs, e.end(ctx, Event{Kind: EventTestDone, Test: TestEntry{Name: "teardown"}}))
	}

	if e.connected {
		errs = append(errs, shutdown.CleanUp(ctx, e.cleanupTimeout(), e.client.Disconnect))
		e.connected = false
	}

	e.setState(StateClosed)
	e.teardownErr = errors.Join(errs...)

	return e.teardownErr
}

func (e *Environment) cleanupTimeout() time.Duration {
	if e.cfg.Timeout > 0 {
		return e.cfg.Timeout
	}

	return configx.DefaultTimeout
}
