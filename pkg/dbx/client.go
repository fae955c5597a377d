package dbx

import (
	"context"
	"time"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Executor runs single statements.
type Executor interface {
	// Exec runs a statement that returns no rows and reports the affected row count.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a statement and collects every row.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	// QueryRow runs a statement and returns its first row, errorx.ErrNoRows when there is none.
	QueryRow(ctx context.Context, query string, args ...any) (Row, error)
	// ExecRaw runs sql with the simple protocol, without parameters.
	ExecRaw(ctx context.Context, sql string) (int64, error)
}

// TxHandle is the surface bound to one open transaction.
type TxHandle interface {
	Executor
	SendBatch(ctx context.Context, batch Batch) (int64, error)
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// Capabilities lists the operations this handle can serve.
	Capabilities() OpSet
}

// Session is a TxHandle able to open a (nested) transaction.
// Application code written against Session runs unchanged on a production client and inside a test transaction.
type Session interface {
	TxHandle
	Transaction(ctx context.Context, form TxForm, opts TxOptions) (any, error)
}

// Client is the process-wide, transactional database client.
type Client interface {
	Session
	// Connect opens the underlying connection. Calling it more than once is a no-op.
	Connect(ctx context.Context) error
	// Disconnect releases the underlying connection. Calling it more than once is a no-op.
	Disconnect(ctx context.Context) error
	// SubscribeQueryEvents registers handler for every executed statement.
	SubscribeQueryEvents(handler QueryEventHandler) error
}

// IsolationLevel of a physical transaction. The zero value keeps the database default.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "ReadUncommitted"
	IsolationReadCommitted   IsolationLevel = "ReadCommitted"
	IsolationRepeatableRead  IsolationLevel = "RepeatableRead"
	IsolationSerializable    IsolationLevel = "Serializable"
)

// TxOptions bound a physical transaction. Zero durations mean no limit.
type TxOptions struct {
	// MaxWait - time allowed to acquire the transaction slot.
	MaxWait time.Duration
	// Timeout - time allowed for the transaction body to run.
	Timeout time.Duration
	// IsolationLevel of the transaction.
	IsolationLevel IsolationLevel
}

// QueryEvent describes one executed statement.
type QueryEvent struct {
	Query    string
	Params   []any
	Duration time.Duration
	Err      error
}

// QueryEventHandler receives query events. It runs on the goroutine that executed the statement.
type QueryEventHandler func(event QueryEvent)
