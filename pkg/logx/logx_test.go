package logx_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	return lines
}

func TestZeroLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logx.NewZeroLogger(&buf, "warn")

	l.LogDebug(context.Background(), "hidden")
	l.LogInfo(context.Background(), "hidden too")
	l.LogWarning(context.Background(), "visible", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["message"])
	assert.Equal(t, "WARNING", lines[0]["severity"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestSetLoggerRestoresDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := logx.NewZeroLogger(&buf, "debug")

	logx.SetLogger(custom)
	assert.Same(t, custom, logx.GetLogger())

	logx.SetLogger(nil)
	_, isDefault := logx.GetLogger().(*logx.DefaultLogger)
	assert.True(t, isDefault)
}

func TestQueryPrinterTagsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	printer := logx.NewQueryPrinter(&buf, false)

	printer.PrintQueries("users_test.go > UserService > adds a user", []logx.QueryRecord{
		{Query: "INSERT INTO users (id, name) VALUES ($1, $2)", Params: `["u1","alice"]`, Duration: time.Millisecond},
		{Query: "SELECT 1"},
	})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "users_test.go > UserService > adds a user", line["breadcrumb"])
		assert.Equal(t, "txscope:query", line["tag"])
	}
	assert.Equal(t, `["u1","alice"]`, lines[0]["params"])
	assert.NotContains(t, lines[1], "params")
}
