package txenv_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/marcodd23/go-txscope/pkg/configx"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/dbx/dbxtest"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/marcodd23/go-txscope/pkg/txenv"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// PrinterMock - mock a logx.QueryPrinter.
type PrinterMock struct {
	mock.Mock
}

func (m *PrinterMock) PrintQueries(breadcrumb string, records []logx.QueryRecord) {
	m.Called(breadcrumb, records)
}

func newEnv(t *testing.T, configure func(cfg *configx.SessionConfig), opts ...txenv.Option) (*txenv.Environment, *dbxtest.Client) {
	t.Helper()

	client := dbxtest.NewClient(t)
	cfg := configx.DefaultSessionConfig()
	if configure != nil {
		configure(&cfg)
	}

	env := txenv.New(cfg, append([]txenv.Option{txenv.WithClient(client)}, opts...)...)
	t.Cleanup(func() {
		_ = env.Teardown(context.Background())
	})

	return env, client
}

func entry(name string) txenv.TestEntry {
	return txenv.TestEntryFromName(name)
}

// startTest emits test-start and test-fn-start.
func startTest(t *testing.T, env *txenv.Environment, name string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.HandleTestEvent(ctx, txenv.Event{Kind: txenv.EventTestStart, Test: entry(name)}))
	require.NoError(t, env.HandleTestEvent(ctx, txenv.Event{Kind: txenv.EventTestFnStart, Test: entry(name)}))
}

// finishTest emits test-fn-success and test-done and returns the error of the latter.
func finishTest(t *testing.T, env *txenv.Environment, name string) error {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.HandleTestEvent(ctx, txenv.Event{Kind: txenv.EventTestFnSuccess, Test: entry(name)}))

	return env.HandleTestEvent(ctx, txenv.Event{Kind: txenv.EventTestDone, Test: entry(name)})
}

// captureLogs routes the process logger into a buffer until the test ends.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	logx.SetLogger(logx.NewZeroLogger(&buf, "warn"))
	t.Cleanup(func() {
		logx.SetLogger(nil)
	})

	return &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	return lines
}

func countRows(t *testing.T, db *txenv.ScopedClient, table string) int64 {
	t.Helper()

	row, err := db.QueryRow(context.Background(), "SELECT COUNT(*) AS count FROM "+table)
	require.NoError(t, err)

	return row["count"].(int64)
}

var errNotFound = errors.New("entity not found")

// updateExisting defers an update failing when no row matched.
func updateExisting(query string, args ...any) dbx.Deferred {
	return func(ctx context.Context, s dbx.Session) (any, error) {
		affected, err := s.Exec(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, errNotFound
		}

		return affected, nil
	}
}
