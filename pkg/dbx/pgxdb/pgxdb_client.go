package pgxdb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/utilx"
	"github.com/marcodd23/go-txscope/pkg/utilx/copyx"
)

// ClientName - name of the PostgreSQL client in the dbx client registry.
const ClientName = "pgx"

func init() {
	dbx.RegisterClientFactory(ClientName, func(_ context.Context, conf dbx.ConnConfig) (dbx.Client, error) {
		return NewPostgresClient(conf), nil
	})

	copyx.RegisterPassThrough(reflect.TypeOf(pgtype.Numeric{}), reflect.TypeOf(&pgtype.Numeric{}))
}

var _ dbx.Client = (*PostgresClient)(nil)

//###################################
//#    PostgresClient - dbx client  #
//###################################

// PostgresClient - pgx backed dbx.Client.
// The pool is created lazily by Connect and closed by Disconnect, each at most once.
type PostgresClient struct {
	dbConf dbx.ConnConfig
	tracer *queryTracer

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// NewPostgresClient - PostgresClient constructor. No connection is opened.
func NewPostgresClient(dbConf dbx.ConnConfig) *PostgresClient {
	return &PostgresClient{dbConf: dbConf, tracer: &queryTracer{}}
}

// Connect creates the connection pool and checks the database is reachable.
func (c *PostgresClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	if c.closed {
		return errorx.NewDatabaseError("client already disconnected")
	}

	pool, err := newConnectionPool(ctx, c.dbConf, c.tracer)
	if err != nil {
		return err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errorx.NewDatabaseErrorWrapper(err, "error reaching the database")
	}

	logx.
		GetLogger().
		LogInfo(ctx, fmt.Sprintf("Created new Connection Pool: DB=%s, HOST=%s, PORT=%d, MAX_CONNS=%d",
			pool.Config().ConnConfig.Database,
			pool.Config().ConnConfig.Host,
			pool.Config().ConnConfig.Port,
			pool.Config().MaxConns))

	c.pool = pool

	return nil
}

// Disconnect closes the connection pool.
func (c *PostgresClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
		logx.GetLogger().LogInfo(ctx, "DB Connection Pool Successfully Closed!")
	}

	return nil
}

// SubscribeQueryEvents registers handler for every statement run by the pool connections, batch members and COPY included.
func (c *PostgresClient) SubscribeQueryEvents(handler dbx.QueryEventHandler) error {
	if handler == nil {
		return errors.New("nil query event handler")
	}

	c.tracer.subscribe(handler)

	return nil
}

func (c *PostgresClient) Capabilities() dbx.OpSet {
	return dbx.ClientOps
}

// GetConnectionConfig - get Db Connection config.
func (c *PostgresClient) GetConnectionConfig() dbx.ConnConfig {
	return c.dbConf
}

// Pool returns the underlying pool, nil before Connect.
func (c *PostgresClient) Pool() *pgxpool.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pool
}

func (c *PostgresClient) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool := c.Pool()
	if pool == nil {
		err := errorx.NewDatabaseError("error, Connection Pool To DB not initialized")
		logx.GetLogger().LogError(ctx, "client used before Connect", err)

		return nil, err
	}

	return pool, nil
}

// Exec runs a statement in autocommit mode.
func (c *PostgresClient) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return 0, err
	}

	return exec(ctx, pool, query, args...)
}

// Query runs a statement in autocommit mode and collects its rows.
func (c *PostgresClient) Query(ctx context.Context, query string, args ...any) ([]dbx.Row, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return nil, err
	}

	return collectRows(ctx, pool, query, args...)
}

// QueryRow runs a statement in autocommit mode and returns its first row.
func (c *PostgresClient) QueryRow(ctx context.Context, query string, args ...any) (dbx.Row, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return nil, err
	}

	return collectFirstRow(ctx, pool, query, args...)
}

// ExecRaw runs sql with the simple protocol in autocommit mode.
func (c *PostgresClient) ExecRaw(ctx context.Context, sql string) (int64, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return 0, err
	}

	return exec(ctx, pool, sql, pgx.QueryExecModeSimpleProtocol)
}

// SendBatch runs the batch in autocommit mode.
func (c *PostgresClient) SendBatch(ctx context.Context, batch dbx.Batch) (int64, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return 0, err
	}

	return sendBatch(ctx, pool, batch)
}

// CopyFrom bulk inserts rows with the COPY protocol in autocommit mode.
func (c *PostgresClient) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return 0, err
	}

	return copyFrom(ctx, pool, table, columns, rows)
}

// Transaction runs form in a physical transaction and commits it, or rolls it back when form fails.
//
// Behavior:
//   - a connection is acquired within opts.MaxWait, otherwise a *errorx.TransactionTimeoutError (max-wait) is returned;
//   - the transaction begins with opts.IsolationLevel and form runs under a context bounded by opts.Timeout;
//   - a body failing after the timeout expired is reported as a *errorx.TransactionTimeoutError (timeout);
//   - rollback runs detached from ctx, so it is attempted even after a cancellation.
func (c *PostgresClient) Transaction(ctx context.Context, form dbx.TxForm, opts dbx.TxOptions) (any, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := acquireConnection(ctx, pool, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	txCtx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := conn.BeginTx(txCtx, pgx.TxOptions{IsoLevel: isoLevel(opts.IsolationLevel)})
	if err != nil {
		return nil, timeoutOr(txCtx, opts, errorx.NewDatabaseErrorWrapper(err, "error starting transaction"))
	}

	handle := &PostgresTx{tx: tx, txID: utilx.ShortID()}
	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("Begin transaction: %s", handle.txID))

	result, err := dbx.RunForm(txCtx, form, handle)
	if err != nil {
		handle.rollback(context.WithoutCancel(ctx))
		return nil, timeoutOr(txCtx, opts, err)
	}

	if err := handle.commit(txCtx); err != nil {
		return nil, timeoutOr(txCtx, opts, err)
	}

	return result, nil
}

func acquireConnection(ctx context.Context, pool *pgxpool.Pool, opts dbx.TxOptions) (*pgxpool.Conn, error) {
	acquireCtx := ctx
	if opts.MaxWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, opts.MaxWait)
		defer cancel()
	}

	conn, err := pool.Acquire(acquireCtx)
	if err != nil {
		if opts.MaxWait > 0 && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			return nil, errorx.NewTransactionTimeoutError(errorx.PhaseMaxWait, opts.MaxWait, err)
		}

		logx.GetLogger().LogError(ctx, "Error acquiring connection from pool", err)

		return nil, errorx.NewDatabaseErrorWrapper(err, "Error acquiring connection from pool")
	}

	return conn, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

// timeoutOr reports err as a timeout when the transaction context expired.
func timeoutOr(txCtx context.Context, opts dbx.TxOptions, err error) error {
	var timeoutErr *errorx.TransactionTimeoutError
	if opts.Timeout > 0 && errors.Is(txCtx.Err(), context.DeadlineExceeded) && !errors.As(err, &timeoutErr) {
		return errorx.NewTransactionTimeoutError(errorx.PhaseTimeout, opts.Timeout, err)
	}

	return err
}

func isoLevel(level dbx.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case dbx.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case dbx.IsolationReadCommitted:
		return pgx.ReadCommitted
	case dbx.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case dbx.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

func newConnectionPool(ctx context.Context, dbConf dbx.ConnConfig, tracer *queryTracer) (*pgxpool.Pool, error) {
	poolConfig, err := createConnectionConfiguration(dbConf)
	if err != nil {
		return nil, err
	}

	poolConfig.ConnConfig.Tracer = tracer

	preparedStatements := dbConf.PreparedStatements
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return setupPreparedStatements(ctx, conn, preparedStatements...)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating New Connection Pool")
	}

	return pool, nil
}

func createConnectionConfiguration(dbConf dbx.ConnConfig) (*pgxpool.Config, error) {
	connString, err := dbConf.ConnString()
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating Connection Pool ConnConfig")
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error parsing database url")
	}

	// One connection: every test transaction owns the whole pool.
	poolConfig.MaxConns = 1
	if dbConf.MaxConn > 0 {
		poolConfig.MaxConns = dbConf.MaxConn
	}

	return poolConfig, nil
}

func setupPreparedStatements(ctx context.Context, conn *pgx.Conn, statements ...dbx.PreparedStatement) error {
	for _, stmt := range statements {
		if _, err := conn.Prepare(ctx, stmt.Name, stmt.Query); err != nil {
			return errorx.NewDatabaseErrorWrapper(err, "Failed to prepare statement '%s'", stmt.Name)
		}
	}

	return nil
}
