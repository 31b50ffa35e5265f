package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLite(t *testing.T) *SQLRepository {
	creds := &Credentials{
		Driver:            DriverSQLite,
		SQLitePath:        filepath.Join(t.TempDir(), "orders.db"),
		MigrationsDirPath: "./migrations",
	}
	repo, err := NewSQLRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func setupPostgres(t *testing.T) *SQLRepository {
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Driver:            DriverPostgres,
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}
	repo, err := NewSQLRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestOrder(transactionID, userID string, createdAt time.Time) *domain.Order {
	return &domain.Order{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		UserID:        userID,
		Payer:         domain.Payer{Name: "Ana Gomez", Email: "ana@example.com", Phone: "1155550000"},
		Status:        domain.PaymentApproved,
		StatusDetail:  "accredited",
		Items: []domain.OrderItem{
			{ProductID: "p1", USSize: "9", Color: "negro", Quantity: 2, Name: "Air Max", UnitPrice: 120.5},
		},
		CreatedAt: createdAt,
	}
}

func runRepositorySuite(t *testing.T, setup func(t *testing.T) *SQLRepository) {
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		repo := setup(t)
		order := newTestOrder("tx-1", "user-1", base)
		require.NoError(t, repo.CreateOrder(ctx, order))

		fetched, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.TransactionID, fetched.TransactionID)
		assert.Equal(t, order.Payer, fetched.Payer)
		assert.Equal(t, domain.PaymentApproved, fetched.Status)
		assert.Equal(t, order.Items, fetched.Items)
		assert.False(t, fetched.Delivered)
		assert.True(t, base.Equal(fetched.CreatedAt))

		byTx, err := repo.GetOrderByTransaction(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, order.ID, byTx.ID)
	})

	t.Run("duplicate transaction", func(t *testing.T) {
		repo := setup(t)
		require.NoError(t, repo.CreateOrder(ctx, newTestOrder("tx-dup", "user-1", base)))

		err := repo.CreateOrder(ctx, newTestOrder("tx-dup", "user-1", base))
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
	})

	t.Run("not found", func(t *testing.T) {
		repo := setup(t)
		_, err := repo.GetOrderByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrOrderNotFound)

		_, err = repo.GetOrderByTransaction(ctx, "missing")
		assert.ErrorIs(t, err, ErrOrderNotFound)

		assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.PaymentRefunded, ""), ErrOrderNotFound)
		assert.ErrorIs(t, repo.MarkDelivered(ctx, "missing", true), ErrOrderNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		repo := setup(t)
		older := newTestOrder("tx-a", "user-2", base)
		newer := newTestOrder("tx-b", "user-2", base.Add(time.Hour))
		require.NoError(t, repo.CreateOrder(ctx, older))
		require.NoError(t, repo.CreateOrder(ctx, newer))
		require.NoError(t, repo.CreateOrder(ctx, newTestOrder("tx-c", "user-3", base)))

		list, err := repo.ListOrdersByUserID(ctx, "user-2")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		empty, err := repo.ListOrdersByUserID(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update status and delivery", func(t *testing.T) {
		repo := setup(t)
		order := newTestOrder("tx-u", "user-1", base)
		require.NoError(t, repo.CreateOrder(ctx, order))

		require.NoError(t, repo.UpdateStatus(ctx, order.ID, domain.PaymentChargedBack, "by_collections"))
		require.NoError(t, repo.MarkDelivered(ctx, order.ID, true))

		fetched, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentChargedBack, fetched.Status)
		assert.Equal(t, "by_collections", fetched.StatusDetail)
		assert.True(t, fetched.Delivered)
	})
}

func TestSQLRepository_SQLite(t *testing.T) {
	runRepositorySuite(t, setupSQLite)
}

func TestSQLRepository_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	repo := setupPostgres(t)
	// Subtests share one container; transaction ids differ per subtest.
	runRepositorySuite(t, func(t *testing.T) *SQLRepository { return repo })
}

func TestCredentials_DSN(t *testing.T) {
	dsn, err := (&Credentials{Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p", DBName: "orders"}).DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=orders sslmode=disable", dsn)

	_, err = (&Credentials{Driver: DriverSQLite}).DSN()
	assert.Error(t, err)

	_, err = (&Credentials{Driver: "mysql"}).DSN()
	assert.Error(t, err)
}
