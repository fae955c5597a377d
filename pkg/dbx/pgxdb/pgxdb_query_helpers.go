package pgxdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/pkg/errors"
)

// Querier is the statement surface shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

func exec(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	result, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, errorx.NewDatabaseErrorWrapper(err, "Error executing query '%s'", query)
	}

	return result.RowsAffected(), nil
}

func collectRows(ctx context.Context, q Querier, query string, args ...any) ([]dbx.Row, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error executing query '%s'", query)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error collecting rows of query '%s'", query)
	}

	return results, nil
}

func collectFirstRow(ctx context.Context, q Querier, query string, args ...any) (dbx.Row, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error executing query '%s'", query)
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorx.ErrNoRows
		}

		return nil, errorx.NewDatabaseErrorWrapper(err, "Error collecting row of query '%s'", query)
	}

	return row, nil
}

func sendBatch(ctx context.Context, q Querier, batch dbx.Batch) (int64, error) {
	statements := batch.Statements()
	if len(statements) == 0 {
		return 0, nil
	}

	results := q.SendBatch(ctx, toPgxBatch(batch))

	var total int64
	for i := range statements {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return total, errorx.NewDatabaseErrorWrapper(err, "Error executing batch statement %d '%s'", i, statements[i].Query)
		}
		total += tag.RowsAffected()
	}

	if err := results.Close(); err != nil {
		return total, errorx.NewDatabaseErrorWrapper(err, "Error closing batch results")
	}

	return total, nil
}

func copyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	identifier, err := splitTableName(table)
	if err != nil {
		return 0, err
	}

	count, err := q.CopyFrom(ctx, identifier, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, errors.Wrap(err, "bulk insert error")
	}

	return count, nil
}

func splitTableName(tableName string) (pgx.Identifier, error) {
	parts := strings.Split(tableName, ".")
	switch len(parts) {
	case 1:
		// Only the table name is provided, assume the default schema
		return pgx.Identifier{parts[0]}, nil
	case 2:
		// Schema and table are provided
		return pgx.Identifier{parts[0], parts[1]}, nil
	default:
		return nil, fmt.Errorf("invalid table name format: %s", tableName)
	}
}

// QueryAndMap uses pgx's struct scanning to map rows directly to a slice of structs.
//
// q is usually the pgx transaction of a PostgresTx (see PostgresTx.PgxTx) or the client pool.
// Rows are mapped with pgx.RowToStructByName, so struct fields match columns by name or `db` tag.
func QueryAndMap[T any](ctx context.Context, q Querier, query string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, errors.Wrap(err, "QueryAndMap error mapping and collecting rows to struct slice")
	}

	return results, nil
}
