package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"vnml-server/pkg/database"
	"vnml-server/pkg/migration"
	store "vnml-server/shared/database"
	"vnml-server/shared/interfaces"

	"github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// TurnStoreIntegrationSuite гоняет общий контракт TurnStore на настоящих PostgreSQL и Redis.
type TurnStoreIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	db          *database.Database
	redisClient *redis.Client
	logger      *zap.Logger
}

func (s *TurnStoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err)

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("vnml_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	migrator := migration.NewMigrator(migration.Config{
		DSN:            dsn,
		MigrationsFS:   store.MigrationsFS,
		MigrationsPath: store.MigrationsPath,
	})
	require.NoError(s.T(), migrator.Up(), "Failed to run migrations")
	version, dirty, err := migrator.Version()
	require.NoError(s.T(), err)
	require.False(s.T(), dirty)
	require.EqualValues(s.T(), 2, version)

	s.db, err = database.New(s.ctx, database.Config{DSN: dsn, MaxConns: 5}, s.logger)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)
	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	require.NoError(s.T(), s.redisClient.Ping(s.ctx).Err(), "Failed to connect to test redis")
}

func (s *TurnStoreIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate postgres container", zap.Error(err))
		}
	}
	if s.rdContainer != nil {
		if err := s.rdContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate redis container", zap.Error(err))
		}
	}
}

func (s *TurnStoreIntegrationSuite) TestPostgresTurnStore() {
	runTurnStoreContract(s.T(), func(t *testing.T) interfaces.TurnStore {
		_, err := s.db.Pool.Exec(s.ctx, "TRUNCATE TABLE vnml_turns, vnml_sessions CASCADE")
		require.NoError(t, err)
		return store.NewPgTurnStore(s.db, s.logger)
	})
}

func (s *TurnStoreIntegrationSuite) TestRedisTurnStore() {
	runTurnStoreContract(s.T(), func(t *testing.T) interfaces.TurnStore {
		require.NoError(t, s.redisClient.FlushDB(s.ctx).Err())
		return store.NewRedisTurnStore(s.redisClient, "vnml:test:", s.logger)
	})
}

func TestTurnStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not running or accessible: %v", err)
	}
	cli.Close()

	suite.Run(t, new(TurnStoreIntegrationSuite))
}
