//go:build integration

package pgxdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/dbx/pgxdb"
	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/test/testcontainer/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// EventLog matches the event_log table of the test schema.
type EventLog struct {
	MessageID    int            `db:"message_id"`
	EntityName   string         `db:"entity_name"`
	EntityKey    string         `db:"entity_key"`
	EventPayload map[string]any `db:"event_payload"`
	ModifyTs     time.Time      `db:"modify_ts"`
	Age          int            `db:"age"`
	IsActive     bool           `db:"is_active"`
	Salary       float64        `db:"salary"`
	JoinDate     time.Time      `db:"join_date"`
	Tags         []string       `db:"tags"`
	TagsNew      []string       `db:"-"`
}

func (e EventLog) ToRow() []interface{} {
	return []interface{}{
		e.MessageID,
		e.EntityName,
		e.EntityKey,
		e.EventPayload,
		e.ModifyTs,
		e.Age,
		e.IsActive,
		e.Salary,
		e.JoinDate,
		e.Tags,
	}
}

// setupClient - starts a migrated container and a connected client on it.
func setupClient(ctx context.Context, t *testing.T) *pgxdb.PostgresClient {
	container := postgres.StartPostgresContainer(ctx, t)

	client := pgxdb.NewPostgresClient(container.ConnConfig())
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	return client
}

func TestPostgresClient(t *testing.T) {
	ctx := context.Background()
	client := setupClient(ctx, t)

	t.Run("autocommit statements", func(t *testing.T) {
		n, err := client.Exec(ctx, "INSERT INTO users (id, name, email) VALUES ($1, $2, $3)", "auto", "Auto", "auto@example.com")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		row, err := client.QueryRow(ctx, "SELECT name FROM users WHERE id = $1", "auto")
		require.NoError(t, err)
		assert.Equal(t, "Auto", row["name"])

		_, err = client.QueryRow(ctx, "SELECT name FROM users WHERE id = $1", "nobody")
		require.ErrorIs(t, err, errorx.ErrNoRows)

		n, err = client.ExecRaw(ctx, "DELETE FROM users WHERE id = 'auto'")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("batch transaction commits", func(t *testing.T) {
		result, err := client.Transaction(ctx, dbx.Sequence(
			dbx.ExecOp("INSERT INTO users (id, name) VALUES ($1, $2)", "tx1", "One"),
			dbx.QueryRowOp("SELECT COUNT(*) AS n FROM users WHERE id = $1", "tx1"),
		), dbx.TxOptions{Timeout: 5 * time.Second})
		require.NoError(t, err)

		results := result.([]any)
		require.Len(t, results, 2)
		assert.Equal(t, int64(1), results[1].(dbx.Row)["n"])

		row, err := client.QueryRow(ctx, "SELECT COUNT(*) AS n FROM users WHERE id = 'tx1'")
		require.NoError(t, err)
		assert.Equal(t, int64(1), row["n"])
	})

	t.Run("failing callback rolls back", func(t *testing.T) {
		_, err := client.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
			if _, err := s.Exec(ctx, "INSERT INTO users (id, name) VALUES ('ghost', 'Ghost')"); err != nil {
				return nil, err
			}

			return nil, errorx.ErrRollbackRequested
		}), dbx.TxOptions{})
		require.ErrorIs(t, err, errorx.ErrRollbackRequested)

		row, err := client.QueryRow(ctx, "SELECT COUNT(*) AS n FROM users WHERE id = 'ghost'")
		require.NoError(t, err)
		assert.Equal(t, int64(0), row["n"])
	})

	t.Run("nested transaction rolls back to its savepoint", func(t *testing.T) {
		_, err := client.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
			if _, err := s.Exec(ctx, "INSERT INTO users (id, name) VALUES ('outer', 'Outer')"); err != nil {
				return nil, err
			}

			_, innerErr := s.Transaction(ctx, dbx.Sequence(
				dbx.ExecOp("INSERT INTO users (id, name) VALUES ('inner', 'Inner')"),
				dbx.ExecOp("INSERT INTO users (id, name) VALUES ('inner', 'Duplicate')"),
			), dbx.TxOptions{})
			require.Error(t, innerErr)

			return nil, nil
		}), dbx.TxOptions{})
		require.NoError(t, err)

		rows, err := client.Query(ctx, "SELECT id FROM users WHERE id IN ('outer', 'inner') ORDER BY id")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "outer", rows[0]["id"])
	})

	t.Run("send batch and copy inside a transaction", func(t *testing.T) {
		entities := []EventLog{
			{
				MessageID: 1001, EntityName: "BulkEntity1", EntityKey: "BulkKey1",
				EventPayload: map[string]any{"key1": "value1"}, ModifyTs: time.Now(), Age: 25, IsActive: true,
				Salary: 5000.50, JoinDate: time.Now(), Tags: []string{"tag1", "tag2"}, TagsNew: []string{"ignored"},
			},
			{
				MessageID: 1002, EntityName: "BulkEntity2", EntityKey: "BulkKey2",
				EventPayload: map[string]any{"key2": "value2"}, ModifyTs: time.Now(), Age: 30,
				Salary: 6000.75, JoinDate: time.Now(), Tags: []string{"tag3"},
			},
		}

		result, err := client.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
			copied, err := dbx.CopyEntities(ctx, s, "event_log", entities)
			if err != nil {
				return nil, err
			}

			batch := dbx.NewBatch()
			batch.Queue("UPDATE event_log SET age = age + 1 WHERE entity_name = $1", "BulkEntity1")
			batch.Queue("UPDATE event_log SET age = age + 1 WHERE entity_name = $1", "BulkEntity2")
			updated, err := s.SendBatch(ctx, batch)
			if err != nil {
				return nil, err
			}

			return copied + updated, nil
		}), dbx.TxOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), result)

		logs, err := pgxdb.QueryAndMap[EventLog](ctx, client.Pool(), "SELECT * FROM event_log WHERE entity_name = $1", "BulkEntity1")
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, 26, logs[0].Age)
		assert.Equal(t, 5000.50, logs[0].Salary)
		assert.Equal(t, []string{"tag1", "tag2"}, logs[0].Tags)
		assert.Equal(t, "value1", logs[0].EventPayload["key1"])
		assert.Nil(t, logs[0].TagsNew)

		row, err := client.QueryRow(ctx, "SELECT salary FROM event_log WHERE entity_name = 'BulkEntity2'")
		require.NoError(t, err)
		assert.IsType(t, pgtype.Numeric{}, row["salary"])
	})

	t.Run("isolation level", func(t *testing.T) {
		result, err := client.Transaction(ctx, dbx.Sequence(
			dbx.QueryRowOp("SHOW transaction_isolation"),
		), dbx.TxOptions{IsolationLevel: dbx.IsolationSerializable})
		require.NoError(t, err)
		assert.Equal(t, "serializable", result.([]any)[0].(dbx.Row)["transaction_isolation"])
	})

	t.Run("max wait", func(t *testing.T) {
		conn, err := client.Pool().Acquire(ctx)
		require.NoError(t, err)

		_, err = client.Transaction(ctx, dbx.Sequence(), dbx.TxOptions{MaxWait: 100 * time.Millisecond})
		conn.Release()

		var timeoutErr *errorx.TransactionTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, errorx.PhaseMaxWait, timeoutErr.Phase)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := client.Transaction(ctx, dbx.Sequence(
			dbx.ExecOp("SELECT pg_sleep(2)"),
		), dbx.TxOptions{Timeout: 100 * time.Millisecond})

		var timeoutErr *errorx.TransactionTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, errorx.PhaseTimeout, timeoutErr.Phase)

		// The connection is usable again.
		_, err = client.Exec(ctx, "SELECT 1")
		require.NoError(t, err)
	})
}

func TestPostgresClientPublishesQueryEvents(t *testing.T) {
	ctx := context.Background()
	client := setupClient(ctx, t)

	var (
		mu     sync.Mutex
		events []dbx.QueryEvent
	)
	require.NoError(t, client.SubscribeQueryEvents(func(event dbx.QueryEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}))

	_, err := client.Transaction(ctx, dbx.Callback(func(ctx context.Context, s dbx.Session) (any, error) {
		if _, err := s.Exec(ctx, "INSERT INTO users (id, name) VALUES ($1, $2)", "evt", "Event"); err != nil {
			return nil, err
		}

		batch := dbx.NewBatch()
		batch.Queue("UPDATE users SET name = $1 WHERE id = $2", "Renamed", "evt")

		return s.SendBatch(ctx, batch)
	}), dbx.TxOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	var queries []string
	for _, event := range events {
		queries = append(queries, event.Query)
	}

	assert.Contains(t, queries, "INSERT INTO users (id, name) VALUES ($1, $2)")
	assert.Contains(t, queries, "UPDATE users SET name = $1 WHERE id = $2")
	for _, event := range events {
		if event.Query == "INSERT INTO users (id, name) VALUES ($1, $2)" {
			assert.Equal(t, []any{"evt", "Event"}, event.Params)
		}
	}
}

func TestRegistryBuildsPostgresClient(t *testing.T) {
	ctx := context.Background()
	container := postgres.StartPostgresContainer(ctx, t)

	client, err := dbx.NewClient(ctx, pgxdb.ClientName, dbx.ConnConfig{DatabaseURL: container.DatabaseURL})
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	row, err := client.QueryRow(ctx, "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, int32(1), row["one"])
}
