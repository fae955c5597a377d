package dbxtest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marcodd23/go-txscope/pkg/dbx"
)

// Tx - handle of one open SQLite transaction.
type Tx struct {
	client *Client
	tx     *sql.Tx
	id     int
	nested int
}

// ID is the sequence number of the transaction, starting at 1.
func (tx *Tx) ID() int {
	return tx.id
}

func (tx *Tx) Capabilities() dbx.OpSet {
	return tx.client.HandleCaps
}

func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return tx.client.exec(ctx, tx.tx, query, args)
}

func (tx *Tx) Query(ctx context.Context, query string, args ...any) ([]dbx.Row, error) {
	return tx.client.query(ctx, tx.tx, query, args)
}

func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) (dbx.Row, error) {
	return firstRow(tx.client.query(ctx, tx.tx, query, args))
}

func (tx *Tx) ExecRaw(ctx context.Context, sql string) (int64, error) {
	return tx.client.exec(ctx, tx.tx, sql, nil)
}

func (tx *Tx) SendBatch(ctx context.Context, batch dbx.Batch) (int64, error) {
	return tx.client.sendBatch(ctx, tx.tx, batch)
}

func (tx *Tx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return tx.client.copyFrom(ctx, tx.tx, table, columns, rows)
}

// Transaction runs form inside a savepoint of tx.
func (tx *Tx) Transaction(ctx context.Context, form dbx.TxForm, _ dbx.TxOptions) (any, error) {
	tx.client.mu.Lock()
	tx.nested++
	name := fmt.Sprintf("dbxtest_sp_%d", tx.nested)
	tx.client.mu.Unlock()

	if _, err := tx.ExecRaw(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}

	result, err := dbx.RunForm(ctx, form, tx)
	if err != nil {
		_, _ = tx.ExecRaw(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name)
		return nil, err
	}

	if _, err := tx.ExecRaw(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return nil, err
	}

	return result, nil
}
