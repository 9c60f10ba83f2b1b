package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresStoreIntegrationTestSuite runs the store contract against a real PostgreSQL
// with the embedded migrations applied.
type PostgresStoreIntegrationTestSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	store     *PostgresStore
}

func (s *PostgresStoreIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(Migrate(dsn))
	// second run is a no-op
	s.Require().NoError(Migrate(dsn))

	store, err := NewPostgresStore(ctx, dsn)
	s.Require().NoError(err)
	s.store = store
}

func (s *PostgresStoreIntegrationTestSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreIntegrationTestSuite) truncate() {
	_, err := s.store.db.Exec("TRUNCATE TABLE orders, drivers")
	s.Require().NoError(err)
}

func (s *PostgresStoreIntegrationTestSuite) TestContract() {
	runStoreContract(s.T(), func(t *testing.T) store {
		s.truncate()
		return s.store
	})
}

func TestPostgresStoreIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreIntegrationTestSuite))
}
