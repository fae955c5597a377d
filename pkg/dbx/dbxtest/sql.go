package dbxtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
)

// querier is the part of *sql.DB and *sql.Tx the client runs statements on.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Postgres numbers its placeholders $n, SQLite spells the same parameter ?n.
var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func toSQLite(query string) string {
	return placeholderRe.ReplaceAllString(query, "?$1")
}

// check rejects the statements the knobs make fail before they reach the engine.
func (c *Client) check(query string) error {
	statement := strings.ToUpper(strings.TrimSpace(query))

	switch {
	case strings.HasPrefix(statement, "FAIL"):
		return fmt.Errorf("%w: %s", ErrStatementFailed, query)
	case c.RejectSavepoints && strings.HasPrefix(statement, "SAVEPOINT"):
		return ErrSavepointsRejected
	default:
		return nil
	}
}

func (c *Client) exec(ctx context.Context, q querier, query string, args []any) (int64, error) {
	start := time.Now()

	affected, err := func() (int64, error) {
		if err := c.check(query); err != nil {
			return 0, err
		}

		result, err := q.ExecContext(ctx, toSQLite(query), args...)
		if err != nil {
			return 0, err
		}

		return result.RowsAffected()
	}()

	c.journal(query, args, err, start)

	return affected, err
}

func (c *Client) query(ctx context.Context, q querier, query string, args []any) ([]dbx.Row, error) {
	start := time.Now()

	collected, err := func() ([]dbx.Row, error) {
		if err := c.check(query); err != nil {
			return nil, err
		}

		rows, err := q.QueryContext(ctx, toSQLite(query), args...)
		if err != nil {
			return nil, err
		}

		return collect(rows)
	}()

	c.journal(query, args, err, start)

	return collected, err
}

func (c *Client) sendBatch(ctx context.Context, q querier, batch dbx.Batch) (int64, error) {
	var total int64
	for _, stmt := range batch.Statements() {
		affected, err := c.exec(ctx, q, stmt.Query, stmt.Args)
		if err != nil {
			return total, err
		}
		total += affected
	}

	return total, nil
}

// copyFrom inserts rows one by one and journals them as a single COPY.
func (c *Client) copyFrom(ctx context.Context, q querier, table string, columns []string, rows [][]any) (int64, error) {
	start := time.Now()

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	var count int64
	var err error
	for _, values := range rows {
		if len(values) != len(columns) {
			err = fmt.Errorf("dbxtest: COPY row has %d values for %d columns", len(values), len(columns))
			break
		}

		if _, err = q.ExecContext(ctx, insert, values...); err != nil {
			break
		}
		count++
	}

	c.journal(fmt.Sprintf("COPY %s (%s) FROM STDIN", table, strings.Join(columns, ", ")), nil, err, start)

	return count, err
}

// collect reads every row keyed by column name and closes rows.
func collect(rows *sql.Rows) ([]dbx.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var collected []dbx.Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(dbx.Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		collected = append(collected, row)
	}

	return collected, rows.Err()
}

func firstRow(rows []dbx.Row, err error) (dbx.Row, error) {
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, errorx.ErrNoRows
	}

	return rows[0], nil
}

// insertStatement builds an INSERT of row with its columns in name order.
func insertStatement(table string, row dbx.Row) (string, []any) {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
		args[i] = row[column]
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// isTxDone reports whether err comes from a statement run on a settled transaction.
func isTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}
