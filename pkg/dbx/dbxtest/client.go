// Package dbxtest provides a dbx.Client backed by an SQLite database for unit tests.
//
// Statements run on a real SQLite engine (modernc.org/sqlite), so SAVEPOINT, RELEASE SAVEPOINT and
// ROLLBACK TO SAVEPOINT behave as in a real database. Postgres style $n placeholders are accepted.
// On top of the engine the client keeps lifecycle counters, a journal of every statement, and knobs
// to make connections, transactions, savepoints or commits fail. The FAIL statement always errors.
package dbxtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"

	_ "modernc.org/sqlite"
)

var (
	// ErrStatementFailed is returned by the FAIL statement.
	ErrStatementFailed = errors.New("dbxtest: statement failed")
	// ErrSavepointsRejected is returned by SAVEPOINT when RejectSavepoints is set.
	ErrSavepointsRejected = errors.New("dbxtest: savepoints are not supported")
	// ErrNotConnected is returned by Transaction before Connect.
	ErrNotConnected = errors.New("dbxtest: client is not connected")
)

// DefaultSchema is applied when NewClient gets no schema.
var DefaultSchema = []string{
	"CREATE TABLE users (id, name, email)",
}

var (
	_ dbx.Client  = (*Client)(nil)
	_ dbx.Session = (*Tx)(nil)
)

// Client - SQLite backed transactional client with a single transaction slot.
// The exported knobs must be set before the client is handed over.
type Client struct {
	// RejectTransactions makes Transaction fail before the body runs.
	RejectTransactions error
	// RejectSavepoints makes every SAVEPOINT statement fail.
	RejectSavepoints bool
	// ConnectErr is returned by Connect.
	ConnectErr error
	// CommitErr is returned by the next commits, the transaction is rolled back instead.
	CommitErr error
	// SubscribeErr is returned by SubscribeQueryEvents.
	SubscribeErr error
	// HandleCaps - operations advertised by transaction handles.
	HandleCaps dbx.OpSet
	// ClientCaps - operations advertised by the client.
	ClientCaps dbx.OpSet

	t    testing.TB
	db   *sql.DB
	slot chan struct{}

	mu            sync.Mutex
	statements    []string
	handlers      []dbx.QueryEventHandler
	connected     bool
	connects      int
	disconnects   int
	commits       int
	rollbacks     int
	transactions  int
	lastIsolation dbx.IsolationLevel
}

// NewClient - client over a fresh database in a temporary directory of t, created with schema
// (DefaultSchema when empty). The database is removed when t ends.
func NewClient(t testing.TB, schema ...string) *Client {
	t.Helper()

	if len(schema) == 0 {
		schema = DefaultSchema
	}

	// WAL lets Rows read the committed state while a transaction holds the write lock.
	dsn := "file:" + filepath.Join(t.TempDir(), "dbxtest.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("dbxtest: open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			t.Fatalf("dbxtest: apply schema %q: %v", ddl, err)
		}
	}

	return &Client{
		t:          t,
		db:         db,
		slot:       make(chan struct{}, 1),
		HandleCaps: dbx.HandleOps,
		ClientCaps: dbx.ClientOps,
	}
}

// Factory returns a dbx.ClientFactory always answering c.
func Factory(c *Client) dbx.ClientFactory {
	return func(context.Context, dbx.ConnConfig) (dbx.Client, error) {
		return c, nil
	}
}

// DB returns the underlying database, for assertions outside of the journal.
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true

	return nil
}

// Disconnect marks the client as disconnected. The database stays readable through Rows until the test ends.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnects++
	c.connected = false

	return nil
}

func (c *Client) SubscribeQueryEvents(handler dbx.QueryEventHandler) error {
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)

	return nil
}

func (c *Client) Capabilities() dbx.OpSet {
	return c.ClientCaps
}

func (c *Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return c.exec(ctx, c.db, query, args)
}

func (c *Client) Query(ctx context.Context, query string, args ...any) ([]dbx.Row, error) {
	return c.query(ctx, c.db, query, args)
}

func (c *Client) QueryRow(ctx context.Context, query string, args ...any) (dbx.Row, error) {
	return firstRow(c.query(ctx, c.db, query, args))
}

func (c *Client) ExecRaw(ctx context.Context, sql string) (int64, error) {
	return c.exec(ctx, c.db, sql, nil)
}

func (c *Client) SendBatch(ctx context.Context, batch dbx.Batch) (int64, error) {
	return c.sendBatch(ctx, c.db, batch)
}

func (c *Client) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return c.copyFrom(ctx, c.db, table, columns, rows)
}

// Transaction acquires the transaction slot within opts.MaxWait, runs form under opts.Timeout and commits,
// or rolls back on error.
func (c *Client) Transaction(ctx context.Context, form dbx.TxForm, opts dbx.TxOptions) (any, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	if c.RejectTransactions != nil {
		return nil, c.RejectTransactions
	}

	if err := c.acquire(ctx, opts.MaxWait); err != nil {
		return nil, err
	}
	defer c.release()

	txCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		txCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	// database/sql rolls a transaction back when its context ends: begin on ctx, settle explicitly.
	tx, err := c.begin(ctx, opts.IsolationLevel)
	if err != nil {
		return nil, err
	}

	result, err := dbx.RunForm(txCtx, form, tx)
	if err != nil {
		c.finish(tx, false)

		var timeoutErr *errorx.TransactionTimeoutError
		if opts.Timeout > 0 && errors.Is(txCtx.Err(), context.DeadlineExceeded) && !errors.As(err, &timeoutErr) {
			return nil, errorx.NewTransactionTimeoutError(errorx.PhaseTimeout, opts.Timeout, err)
		}

		return nil, err
	}

	if c.CommitErr != nil {
		c.finish(tx, false)
		return nil, errorx.NewDatabaseErrorWrapper(c.CommitErr, "error during transaction commit")
	}

	if err := c.finish(tx, true); err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "error during transaction commit")
	}

	return result, nil
}

// HoldConnection occupies the transaction slot until release is called.
func (c *Client) HoldConnection() (release func()) {
	c.slot <- struct{}{}

	var once sync.Once

	return func() {
		once.Do(c.release)
	}
}

func (c *Client) acquire(ctx context.Context, maxWait time.Duration) error {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		if maxWait > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errorx.NewTransactionTimeoutError(errorx.PhaseMaxWait, maxWait, ctx.Err())
		}

		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.slot
}

func (c *Client) begin(ctx context.Context, isolation dbx.IsolationLevel) (*Tx, error) {
	start := time.Now()

	// SQLite transactions are always serializable: the requested level is only recorded.
	sqlTx, err := c.db.BeginTx(ctx, nil)
	c.journal("BEGIN", nil, err, start)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "error starting transaction")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.transactions++
	c.lastIsolation = isolation

	return &Tx{client: c, tx: sqlTx, id: c.transactions}, nil
}

func (c *Client) finish(tx *Tx, commit bool) error {
	start := time.Now()
	statement := "ROLLBACK"

	var err error
	if commit {
		statement = "COMMIT"
		err = tx.tx.Commit()
	} else {
		err = tx.tx.Rollback()
		if isTxDone(err) {
			err = nil
		}
	}

	c.mu.Lock()
	if commit && err == nil {
		c.commits++
	} else if !commit {
		c.rollbacks++
	}
	c.mu.Unlock()

	c.journal(statement, nil, err, start)

	return err
}

func (c *Client) journal(query string, args []any, err error, start time.Time) {
	c.mu.Lock()
	c.statements = append(c.statements, query)
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	event := dbx.QueryEvent{Query: query, Params: args, Duration: time.Since(start), Err: err}
	for _, handler := range handlers {
		handler(event)
	}
}

// Statements returns every statement executed so far, BEGIN, COMMIT and ROLLBACK included.
func (c *Client) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.statements)
}

// ResetStatements clears the statement journal.
func (c *Client) ResetStatements() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statements = nil
}

// Seed commits rows into table without journaling them.
func (c *Client) Seed(table string, rows ...dbx.Row) {
	c.t.Helper()

	for _, row := range rows {
		query, args := insertStatement(table, row)
		if _, err := c.db.Exec(query, args...); err != nil {
			c.t.Fatalf("dbxtest: seed %s: %v", table, err)
		}
	}
}

// Rows returns the committed rows of table.
func (c *Client) Rows(table string) []dbx.Row {
	c.t.Helper()

	rows, err := c.db.Query(fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(table)))
	if err != nil {
		c.t.Fatalf("dbxtest: read %s: %v", table, err)
	}

	collected, err := collect(rows)
	if err != nil {
		c.t.Fatalf("dbxtest: read %s: %v", table, err)
	}

	return collected
}

// Stats - counters of the client lifecycle.
type Stats struct {
	Connects      int
	Disconnects   int
	Transactions  int
	Commits       int
	Rollbacks     int
	Subscribers   int
	Connected     bool
	LastIsolation dbx.IsolationLevel
}

// Stats returns a snapshot of the lifecycle counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Connects:      c.connects,
		Disconnects:   c.disconnects,
		Transactions:  c.transactions,
		Commits:       c.commits,
		Rollbacks:     c.rollbacks,
		Subscribers:   len(c.handlers),
		Connected:     c.connected,
		LastIsolation: c.lastIsolation,
	}
}
