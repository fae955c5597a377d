// Package postgres starts a throw-away PostgreSQL container for integration tests and migrates it with goose.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marcodd23/go-txscope/pkg/configx"
	"github.com/marcodd23/go-txscope/pkg/dbx"
	"github.com/marcodd23/go-txscope/pkg/logx"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresContainerImage = "docker.io/postgres:16-alpine"
	postgresContainerPort  = "5432/tcp"

	MainDbName     = "main-db"
	MainDbUser     = "postgres"
	MainDbPassword = "password"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresContainer represents the postgres Container type used in the module.
type PostgresContainer struct {
	Container   *postgres.PostgresContainer
	MappedPort  nat.Port
	Host        string
	DbName      string
	DbUser      string
	DbPassword  string
	DatabaseURL string
}

// StartPostgresContainer - starts the container and applies the schema migrations.
// The container is terminated when the test ends.
func StartPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()

	pg, err := postgres.Run(ctx,
		postgresContainerImage,
		postgres.WithDatabase(MainDbName),
		postgres.WithUsername(MainDbUser),
		postgres.WithPassword(MainDbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	require.NotNil(t, pg)

	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("error terminating the Container: %v", err)
		}
	})

	mappedPort, err := pg.MappedPort(ctx, postgresContainerPort)
	require.NoError(t, err)

	host, err := pg.Host(ctx)
	require.NoError(t, err)

	databaseURL, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log.Printf("Postgres running at %s:%s", host, mappedPort.Port())

	container := &PostgresContainer{
		Container:   pg,
		MappedPort:  mappedPort,
		Host:        host,
		DbName:      MainDbName,
		DbUser:      MainDbUser,
		DbPassword:  MainDbPassword,
		DatabaseURL: databaseURL,
	}

	require.NoError(t, container.ApplyMigrations(ctx))

	return container
}

// ApplyMigrations runs every embedded goose migration not applied yet.
func (c *PostgresContainer) ApplyMigrations(ctx context.Context) error {
	db, err := sql.Open("pgx", c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logx.GetLogger().LogDebug(ctx, "test schema migrated")

	return nil
}

// ConnConfig - connection configuration of the container database.
func (c *PostgresContainer) ConnConfig() dbx.ConnConfig {
	return dbx.ConnConfig{
		IsLocalEnv: true,
		Host:       c.Host,
		Port:       int32(c.MappedPort.Int()),
		DBName:     c.DbName,
		User:       c.DbUser,
		Password:   c.DbPassword,
		MaxConn:    1,
	}
}

// SessionConfig - default session configuration pointing at the container database.
func (c *PostgresContainer) SessionConfig() configx.SessionConfig {
	cfg := configx.DefaultSessionConfig()
	cfg.DatabaseURL = c.DatabaseURL

	return cfg
}
