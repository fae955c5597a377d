package txenv

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/utilx/copyx"
)

var _ dbx.Client = (*ScopedClient)(nil)

// ScopedClient is the client handed to tests. Every operation runs on the transaction of the running test:
//   - operations served by the transaction handle are forwarded to it;
//   - Transaction opens a nested transaction, emulated with savepoints;
//   - operations only the top-level client serves fail with *errorx.UnsupportedOperationError;
//   - anything else fails with errorx.ErrOperationUndefined.
//
// Outside a test transaction every operation logs a warning and fails with errorx.ErrNoActiveTransaction.
// Rows returned by Query, QueryRow and nested transactions are deep copies the caller owns.
type ScopedClient struct {
	binding  atomic.Pointer[activeTx]
	original dbx.Client
	emulator savepointEmulator
}

func newScopedClient(emulator savepointEmulator) *ScopedClient {
	return &ScopedClient{emulator: emulator}
}

func (c *ScopedClient) bind(tx *activeTx) {
	c.binding.Store(tx)
}

func (c *ScopedClient) unbind(tx *activeTx) {
	c.binding.CompareAndSwap(tx, nil)
}

// Active reports whether a test transaction is bound.
func (c *ScopedClient) Active() bool {
	return c.binding.Load() != nil
}

// Handle returns the raw handle of the test transaction, nil outside a test.
// Results read through it are not copied.
func (c *ScopedClient) Handle() dbx.Session {
	tx := c.binding.Load()
	if tx == nil {
		warnPrematureAccess(context.Background(), "Handle")
		return nil
	}

	return tx.handle
}

// resolve finds the transaction serving op or the error explaining why none does.
func (c *ScopedClient) resolve(ctx context.Context, op dbx.Op) (*activeTx, error) {
	tx := c.binding.Load()
	if tx == nil {
		warnPrematureAccess(ctx, op.String())
		return nil, errorx.ErrNoActiveTransaction
	}

	if op == dbx.OpTransaction || tx.handle.Capabilities().Has(op) {
		return tx, nil
	}

	if c.original != nil && c.original.Capabilities().Has(op) {
		err := errorx.NewUnsupportedOperationError(op.String())
		logx.GetLogger().LogError(ctx, fmt.Sprintf("%s blocked in transactional scope of transaction %s", op, tx.id), err)

		return nil, err
	}

	return nil, errorx.ErrOperationUndefined
}

// acquire resolves op and registers the call on the transaction until leave is called.
// The returned context is cancelled when the transaction times out or ends.
func (c *ScopedClient) acquire(ctx context.Context, op dbx.Op) (*activeTx, context.Context, func(), error) {
	tx, err := c.resolve(ctx, op)
	if err != nil {
		return nil, nil, nil, err
	}

	callCtx, leave, err := tx.enter(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	return tx, callCtx, leave, nil
}

func warnPrematureAccess(ctx context.Context, what string) {
	logx.GetLogger().LogWarning(ctx, fmt.Sprintf(
		"scoped client accessed outside a test transaction (%s): use the original client in suite level setup and teardown", what))
}

func (c *ScopedClient) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpExec)
	if err != nil {
		return 0, err
	}
	defer leave()

	return tx.handle.Exec(ctx, query, args...)
}

func (c *ScopedClient) Query(ctx context.Context, query string, args ...any) ([]dbx.Row, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpQuery)
	if err != nil {
		return nil, err
	}
	defer leave()

	rows, err := tx.handle.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return copyx.NormalizeAs(rows), nil
}

func (c *ScopedClient) QueryRow(ctx context.Context, query string, args ...any) (dbx.Row, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpQueryRow)
	if err != nil {
		return nil, err
	}
	defer leave()

	row, err := tx.handle.QueryRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return copyx.NormalizeAs(row), nil
}

func (c *ScopedClient) ExecRaw(ctx context.Context, sql string) (int64, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpExecRaw)
	if err != nil {
		return 0, err
	}
	defer leave()

	return tx.handle.ExecRaw(ctx, sql)
}

func (c *ScopedClient) SendBatch(ctx context.Context, batch dbx.Batch) (int64, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpSendBatch)
	if err != nil {
		return 0, err
	}
	defer leave()

	return tx.handle.SendBatch(ctx, batch)
}

func (c *ScopedClient) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpCopyFrom)
	if err != nil {
		return 0, err
	}
	defer leave()

	return tx.handle.CopyFrom(ctx, table, columns, rows)
}

// Transaction runs form as a nested transaction of the test transaction. opts are ignored:
// the limits of the test transaction apply.
func (c *ScopedClient) Transaction(ctx context.Context, form dbx.TxForm, _ dbx.TxOptions) (any, error) {
	tx, ctx, leave, err := c.acquire(ctx, dbx.OpTransaction)
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.emulator.run(ctx, tx, form, c)
}

// Capabilities of the bound transaction handle, nested transactions included. Empty outside a test.
func (c *ScopedClient) Capabilities() dbx.OpSet {
	tx := c.binding.Load()
	if tx == nil {
		warnPrematureAccess(context.Background(), "Capabilities")
		return dbx.NewOpSet()
	}

	return tx.handle.Capabilities().With(dbx.OpTransaction)
}

// Connect is owned by the Environment, see OriginalClient.
func (c *ScopedClient) Connect(ctx context.Context) error {
	tx, err := c.resolve(ctx, dbx.OpConnect)
	if err != nil {
		return err
	}

	if connector, ok := tx.handle.(interface{ Connect(context.Context) error }); ok {
		return connector.Connect(ctx)
	}

	return errorx.ErrOperationUndefined
}

// Disconnect is owned by the Environment, see OriginalClient.
func (c *ScopedClient) Disconnect(ctx context.Context) error {
	tx, err := c.resolve(ctx, dbx.OpDisconnect)
	if err != nil {
		return err
	}

	if disconnector, ok := tx.handle.(interface{ Disconnect(context.Context) error }); ok {
		return disconnector.Disconnect(ctx)
	}

	return errorx.ErrOperationUndefined
}

// SubscribeQueryEvents is owned by the Environment, see OriginalClient.
func (c *ScopedClient) SubscribeQueryEvents(handler dbx.QueryEventHandler) error {
	tx, err := c.resolve(context.Background(), dbx.OpSubscribeQueryEvents)
	if err != nil {
		return err
	}

	if subscriber, ok := tx.handle.(interface {
		SubscribeQueryEvents(dbx.QueryEventHandler) error
	}); ok {
		return subscriber.SubscribeQueryEvents(handler)
	}

	return errorx.ErrOperationUndefined
}
