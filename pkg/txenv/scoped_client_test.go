package txenv_test

import (
	"context"
	"testing"

	"github.com/marcodd23/go-txscope/pkg/configx"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/dbx/dbxtest"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/txenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedClientForwardsHandleOperations(t *testing.T) {
	ctx := context.Background()
	env, client := newEnv(t, nil)
	db := env.Client()

	startTest(t, env, "TestForward")

	batch := dbx.NewBatch()
	batch.Queue("INSERT INTO users (id, name) VALUES ($1, $2)", "u1", "Alice")
	batch.Queue("INSERT INTO users (id, name) VALUES ($1, $2)", "u2", "Bob")
	n, err := db.SendBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.CopyFrom(ctx, "users", []string{"id", "name"}, [][]any{{"u3", "Carol"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = db.ExecRaw(ctx, "DELETE FROM users WHERE id = 'u2'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.QueryRow(ctx, "SELECT * FROM users WHERE id = 'u2'")
	require.ErrorIs(t, err, errorx.ErrNoRows)

	assert.Equal(t, int64(2), countRows(t, db, "users"))
	assert.Equal(t, dbx.HandleOps, db.Capabilities())

	handle, ok := db.Handle().(*dbxtest.Tx)
	require.True(t, ok)
	assert.Equal(t, client.Stats().Transactions, handle.ID())

	require.NoError(t, finishTest(t, env, "TestForward"))
	assert.Empty(t, client.Rows("users"))
}

func TestScopedClientResultsAreDetached(t *testing.T) {
	ctx := context.Background()
	env, client := newEnv(t, nil)
	client.Seed("users", dbx.Row{"id": "u1", "name": "Alice"})
	db := env.Client()

	startTest(t, env, "TestDetached")

	rows, err := db.Query(ctx, "SELECT * FROM users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	rows[0]["name"] = "Mallory"

	row, err := db.QueryRow(ctx, "SELECT * FROM users WHERE id = 'u1'")
	require.NoError(t, err)
	assert.Equal(t, "Alice", row["name"])
	row["name"] = "Mallory"

	result, err := db.Transaction(ctx, dbx.Sequence(dbx.QueryOp("SELECT * FROM users")), dbx.TxOptions{})
	require.NoError(t, err)
	nested := result.([]any)[0].([]dbx.Row)
	nested[0]["name"] = "Mallory"

	again, err := db.QueryRow(ctx, "SELECT * FROM users WHERE id = 'u1'")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again["name"])

	require.NoError(t, finishTest(t, env, "TestDetached"))
}

func TestScopedClientBlocksTopLevelOperations(t *testing.T) {
	ctx := context.Background()
	logs := captureLogs(t)
	env, client := newEnv(t, nil)
	client.HandleCaps = dbx.HandleOps.Without(dbx.OpCopyFrom)
	db := env.Client()

	startTest(t, env, "TestBlocked")

	_, err := db.CopyFrom(ctx, "users", []string{"id"}, [][]any{{"u1"}})
	var unsupported *errorx.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "CopyFrom", unsupported.Operation)

	require.ErrorAs(t, db.Connect(ctx), &unsupported)
	assert.Equal(t, "Connect", unsupported.Operation)
	require.ErrorAs(t, db.Disconnect(ctx), &unsupported)
	require.ErrorAs(t, db.SubscribeQueryEvents(func(dbx.QueryEvent) {}), &unsupported)

	lines := logLines(t, logs)
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.Equal(t, "ERROR", line["severity"])
	}

	require.NoError(t, finishTest(t, env, "TestBlocked"))
	assert.True(t, client.Stats().Connected, "the client was not disconnected through the scoped client")
}

func TestScopedClientUndefinedOperations(t *testing.T) {
	ctx := context.Background()
	logs := captureLogs(t)
	env, client := newEnv(t, nil)
	client.HandleCaps = dbx.HandleOps.Without(dbx.OpSendBatch)
	client.ClientCaps = dbx.ClientOps.Without(dbx.OpSendBatch)
	db := env.Client()

	startTest(t, env, "TestUndefined")

	_, err := db.SendBatch(ctx, dbx.NewBatch())
	require.ErrorIs(t, err, errorx.ErrOperationUndefined)
	assert.Empty(t, logLines(t, logs))

	require.NoError(t, finishTest(t, env, "TestUndefined"))
}

func TestScopedClientAfterTheTest(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t, nil)
	db := env.Client()

	startTest(t, env, "TestOver")
	require.NoError(t, finishTest(t, env, "TestOver"))

	_, err := db.Exec(ctx, "INSERT INTO users (id) VALUES ('late')")
	require.ErrorIs(t, err, errorx.ErrNoActiveTransaction)
	_, err = db.Transaction(ctx, dbx.Sequence(), dbx.TxOptions{})
	require.ErrorIs(t, err, errorx.ErrNoActiveTransaction)
	assert.Zero(t, db.Capabilities())
}

func TestSavepointsAreNumberedPerTest(t *testing.T) {
	ctx := context.Background()
	env, client := newEnv(t, func(cfg *configx.SessionConfig) {
		cfg.EnableExperimentalRollbackInTransaction = true
	})
	db := env.Client()

	startTest(t, env, "TestFirst")
	for range 2 {
		_, err := db.Transaction(ctx, dbx.Sequence(dbx.QueryOp("SELECT COUNT(*) FROM users")), dbx.TxOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, finishTest(t, env, "TestFirst"))
	assert.Contains(t, client.Statements(), "SAVEPOINT txscope_sp_2")

	client.ResetStatements()
	startTest(t, env, "TestSecond")
	_, err := db.Transaction(ctx, dbx.Sequence(), dbx.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, finishTest(t, env, "TestSecond"))

	assert.Equal(t, []string{
		"BEGIN",
		"SAVEPOINT txscope_sp_1",
		"RELEASE SAVEPOINT txscope_sp_1",
		"ROLLBACK",
	}, client.Statements())
}

func TestNestedTransactionsInsideNestedTransactions(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t, func(cfg *configx.SessionConfig) {
		cfg.EnableExperimentalRollbackInTransaction = true
	})
	db := env.Client()

	startTest(t, env, "TestDeep")

	result, err := db.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
		if _, err := s.Exec(ctx, "INSERT INTO users (id) VALUES ('outer')"); err != nil {
			return nil, err
		}

		_, innerErr := s.Transaction(ctx, dbx.Sequence(
			dbx.ExecOp("INSERT INTO users (id) VALUES ('inner')"),
			dbx.ExecOp("FAIL"),
		), dbx.TxOptions{})

		return innerErr != nil, nil
	}), dbx.TxOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, result)

	_, err = db.QueryRow(ctx, "SELECT * FROM users WHERE id = 'outer'")
	require.NoError(t, err)
	_, err = db.QueryRow(ctx, "SELECT * FROM users WHERE id = 'inner'")
	require.ErrorIs(t, err, errorx.ErrNoRows)

	require.NoError(t, finishTest(t, env, "TestDeep"))
}

func TestInTransactionRunsOnTheScopedClient(t *testing.T) {
	ctx := context.Background()
	env, client := newEnv(t, func(cfg *configx.SessionConfig) {
		cfg.EnableExperimentalRollbackInTransaction = true
	})

	startTest(t, env, "TestTyped")

	var session dbx.Session = env.Client()
	id, err := dbx.InTransaction(ctx, session, dbx.TxOptions{}, func(ctx context.Context, s dbx.Session) (string, error) {
		_, err := s.Exec(ctx, "INSERT INTO users (id, name) VALUES ($1, $2)", "u1", "Alice")
		return "u1", err
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, int64(1), countRows(t, env.Client(), "users"))

	require.NoError(t, finishTest(t, env, "TestTyped"))
	assert.Empty(t, client.Rows("users"))
	assert.Zero(t, client.Stats().Commits)
}

func TestScopedClientIsASession(t *testing.T) {
	env, _ := newEnv(t, nil)

	var _ dbx.Session = env.Client()
	var _ dbx.Client = env.Client()
	assert.IsType(t, &txenv.ScopedClient{}, env.Client())
}
