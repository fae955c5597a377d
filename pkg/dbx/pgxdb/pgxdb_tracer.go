package pgxdb

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marcodd23/go-txscope/pkg/dbx"
)

var (
	_ pgx.QueryTracer    = (*queryTracer)(nil)
	_ pgx.BatchTracer    = (*queryTracer)(nil)
	_ pgx.CopyFromTracer = (*queryTracer)(nil)
)

type traceKey struct{}

type traceData struct {
	sql   string
	args  []any
	start time.Time
}

type batchTrace struct {
	last time.Time
}

// queryTracer publishes every statement run on the pool connections as a dbx.QueryEvent.
type queryTracer struct {
	mu       sync.RWMutex
	handlers []dbx.QueryEventHandler
}

func (t *queryTracer) subscribe(handler dbx.QueryEventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers = append(t.handlers, handler)
}

func (t *queryTracer) publish(event dbx.QueryEvent) {
	t.mu.RLock()
	handlers := slices.Clone(t.handlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{sql: data.SQL, args: statementArgs(data.Args), start: time.Now()})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}

	t.publish(dbx.QueryEvent{Query: trace.sql, Params: trace.args, Duration: time.Since(trace.start), Err: data.Err})
}

func (t *queryTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceBatchStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, &batchTrace{last: time.Now()})
}

// TraceBatchQuery times each member from the end of the previous one.
func (t *queryTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	duration := time.Duration(0)
	if trace, ok := ctx.Value(traceKey{}).(*batchTrace); ok {
		now := time.Now()
		duration = now.Sub(trace.last)
		trace.last = now
	}

	t.publish(dbx.QueryEvent{Query: data.SQL, Params: statementArgs(data.Args), Duration: duration, Err: data.Err})
}

func (t *queryTracer) TraceBatchEnd(context.Context, *pgx.Conn, pgx.TraceBatchEndData) {}

func (t *queryTracer) TraceCopyFromStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceCopyFromStartData) context.Context {
	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN", data.TableName.Sanitize(), strings.Join(data.ColumnNames, ", "))
	return context.WithValue(ctx, traceKey{}, traceData{sql: sql, start: time.Now()})
}

func (t *queryTracer) TraceCopyFromEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceCopyFromEndData) {
	trace, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}

	t.publish(dbx.QueryEvent{Query: trace.sql, Duration: time.Since(trace.start), Err: data.Err})
}

// statementArgs drops the pgx execution options passed in front of the statement arguments.
func statementArgs(args []any) []any {
	for len(args) > 0 {
		switch args[0].(type) {
		case pgx.QueryExecMode, pgx.QueryResultFormats, pgx.QueryResultFormatsByOID:
			args = args[1:]
		default:
			return args
		}
	}

	return nil
}
