package dbx

import (
	"context"

	"github.com/pkg/errors"
)

// QueryAndScan executes a query and maps every row with scanFunc.
//
// Arguments:
//   - ctx: The context for the query execution.
//   - e: The executor running the query, a client, a transaction handle or a scoped client.
//   - scanFunc: A function that maps each Row to the desired type (T).
//   - query: The SQL query to be executed.
//   - args: The variadic arguments for the SQL query, if any.
func QueryAndScan[T any](ctx context.Context, e Executor, scanFunc func(row Row) (T, error), query string, args ...any) ([]T, error) {
	rows, err := e.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	results := make([]T, 0, len(rows))
	for _, row := range rows {
		result, err := scanFunc(row)
		if err != nil {
			return nil, errors.Wrap(err, "QueryAndScan error scanFunc")
		}
		results = append(results, result)
	}

	return results, nil
}

// QueryRowAndScan executes a query and maps its first row with scanFunc.
func QueryRowAndScan[T any](ctx context.Context, e Executor, scanFunc func(row Row) (T, error), query string, args ...any) (T, error) {
	var zero T

	row, err := e.QueryRow(ctx, query, args...)
	if err != nil {
		return zero, err
	}

	result, err := scanFunc(row)
	if err != nil {
		return zero, errors.Wrap(err, "QueryRowAndScan error scanFunc")
	}

	return result, nil
}

// CopyEntities inserts a large number of entities with a COPY, deriving the column names from the `db` tags
// of the first entity. Rows come from ToRow when the entities implement RowConvertibleEntity, from the tags
// otherwise. tableName may be schema qualified and is case sensitive.
func CopyEntities[T any](ctx context.Context, h TxHandle, tableName string, entities []T) (int64, error) {
	if len(entities) == 0 {
		return 0, errors.New("no entities to insert")
	}

	columnNames, err := DeriveColumnNamesFromTags(entities[0], "db")
	if err != nil {
		return 0, errors.Wrap(err, "error deriving column names")
	}

	rows, err := entityRows(entities)
	if err != nil {
		return 0, errors.Wrap(err, "error converting entities")
	}

	count, err := h.CopyFrom(ctx, tableName, columnNames, rows)
	if err != nil {
		return 0, errors.Wrap(err, "bulk insert error")
	}

	return count, nil
}

func entityRows[T any](entities []T) ([][]any, error) {
	if _, ok := any(entities[0]).(RowConvertibleEntity); !ok {
		return StructsToRows(entities, "db")
	}

	rows := make([][]any, len(entities))
	for i, entity := range entities {
		convertible, ok := any(entity).(RowConvertibleEntity)
		if !ok {
			return nil, errors.Errorf("entity %d does not implement ToRow", i)
		}
		rows[i] = convertible.ToRow()
	}

	return rows, nil
}
