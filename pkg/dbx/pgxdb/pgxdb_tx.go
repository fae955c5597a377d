package pgxdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/logx"
)

var _ dbx.Session = (*PostgresTx)(nil)

//###################################
//#       Postgres TX               #
//###################################

// PostgresTx - handle of an open pgx transaction. It implements dbx.Session;
// nested transactions are pgx pseudo nested transactions, backed by savepoints.
type PostgresTx struct {
	tx   pgx.Tx
	txID string
}

// PgxTx - Returns the underlying pgx transaction.
func (tx *PostgresTx) PgxTx() pgx.Tx {
	return tx.tx
}

// ID - short identifier of the transaction used in log lines.
func (tx *PostgresTx) ID() string {
	return tx.txID
}

func (tx *PostgresTx) Capabilities() dbx.OpSet {
	return dbx.HandleOps
}

// Exec - Executes a command query under the transaction and returns the number of rows affected.
func (tx *PostgresTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return exec(ctx, tx.tx, query, args...)
}

// Query - executes a query under the transaction and collects its rows keyed by column name.
func (tx *PostgresTx) Query(ctx context.Context, query string, args ...any) ([]dbx.Row, error) {
	return collectRows(ctx, tx.tx, query, args...)
}

// QueryRow - executes a query under the transaction and returns its first row, errorx.ErrNoRows when empty.
func (tx *PostgresTx) QueryRow(ctx context.Context, query string, args ...any) (dbx.Row, error) {
	return collectFirstRow(ctx, tx.tx, query, args...)
}

// ExecRaw - executes sql with the simple protocol, used for transaction control statements.
func (tx *PostgresTx) ExecRaw(ctx context.Context, sql string) (int64, error) {
	return exec(ctx, tx.tx, sql, pgx.QueryExecModeSimpleProtocol)
}

// SendBatch - executes the batch under the transaction and returns the total of the affected rows.
func (tx *PostgresTx) SendBatch(ctx context.Context, batch dbx.Batch) (int64, error) {
	return sendBatch(ctx, tx.tx, batch)
}

// CopyFrom - bulk inserts rows under the transaction with the COPY protocol.
func (tx *PostgresTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return copyFrom(ctx, tx.tx, table, columns, rows)
}

// Transaction runs form in a pseudo nested transaction and releases it, or rolls back to it when form fails.
func (tx *PostgresTx) Transaction(ctx context.Context, form dbx.TxForm, _ dbx.TxOptions) (any, error) {
	nested, err := tx.tx.Begin(ctx)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "error starting nested transaction")
	}

	handle := &PostgresTx{tx: nested, txID: tx.txID}

	result, err := dbx.RunForm(ctx, form, handle)
	if err != nil {
		handle.rollback(ctx)
		return nil, err
	}

	if err := handle.commit(ctx); err != nil {
		return nil, err
	}

	return result, nil
}

func (tx *PostgresTx) commit(ctx context.Context) error {
	err := tx.tx.Commit(ctx)
	if err != nil {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("error during transaction commit: %s", tx.txID), err)
		return errorx.NewDatabaseErrorWrapper(err, "error during transaction commit")
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("Commit transaction: %s", tx.txID))

	return nil
}

func (tx *PostgresTx) rollback(ctx context.Context) {
	err := tx.tx.Rollback(ctx)
	if err != nil {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("error Rolling Back transaction: %s", tx.txID), err)
	} else {
		logx.GetLogger().LogDebug(ctx, fmt.Sprintf("Rollback transaction: %s", tx.txID))
	}
}
