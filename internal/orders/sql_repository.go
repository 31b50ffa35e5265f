package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const migrationsTable = "orders_schema_migrations"

// SQLRepository implements Repository on Postgres or SQLite.
type SQLRepository struct {
	db     *sqlx.DB
	driver string
}

func NewSQLRepository(cred *Credentials) (*SQLRepository, error) {
	dsn, err := cred.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cred.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cred.Driver == DriverSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
	}
	return &SQLRepository{db: db, driver: cred.Driver}, nil
}

// RunMigrations applies <MigrationsDirPath>/<driver>.
func (r *SQLRepository) RunMigrations(cred *Credentials) error {
	var (
		m   *migrate.Migrate
		err error
	)
	source := fmt.Sprintf("file://%s", filepath.Join(cred.MigrationsDirPath, r.driver))

	switch r.driver {
	case DriverPostgres:
		driver, derr := migratepg.WithInstance(r.db.DB, &migratepg.Config{MigrationsTable: migrationsTable})
		if derr != nil {
			return fmt.Errorf("could not create migration driver: %w", derr)
		}
		m, err = migrate.NewWithDatabaseInstance(source, DriverPostgres, driver)
	case DriverSQLite:
		driver, derr := migratesqlite.WithInstance(r.db.DB, &migratesqlite.Config{MigrationsTable: migrationsTable})
		if derr != nil {
			return fmt.Errorf("could not create migration driver: %w", derr)
		}
		m, err = migrate.NewWithDatabaseInstance(source, DriverSQLite, driver)
	default:
		return fmt.Errorf("unsupported orders driver %q", r.driver)
	}
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

type orderRow struct {
	ID            string    `db:"id"`
	TransactionID string    `db:"transaction_id"`
	UserID        string    `db:"user_id"`
	PayerName     string    `db:"payer_name"`
	PayerEmail    string    `db:"payer_email"`
	PayerPhone    string    `db:"payer_phone"`
	Status        string    `db:"status"`
	StatusDetail  string    `db:"status_detail"`
	Items         string    `db:"items"`
	Delivered     bool      `db:"delivered"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row *orderRow) toDomain() (*domain.Order, error) {
	order := &domain.Order{
		ID:            row.ID,
		TransactionID: row.TransactionID,
		UserID:        row.UserID,
		Payer:         domain.Payer{Name: row.PayerName, Email: row.PayerEmail, Phone: row.PayerPhone},
		Status:        domain.PaymentStatus(row.Status),
		StatusDetail:  row.StatusDetail,
		Delivered:     row.Delivered,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(row.Items), &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return order, nil
}

const selectOrder = `SELECT id, transaction_id, user_id, payer_name, payer_email, payer_phone,
	status, status_detail, items, delivered, created_at, updated_at FROM orders`

func (r *SQLRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	query := r.db.Rebind(`INSERT INTO orders (id, transaction_id, user_id, payer_name, payer_email, payer_phone,
		status, status_detail, items, delivered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.TransactionID,
		order.UserID,
		order.Payer.Name,
		order.Payer.Email,
		order.Payer.Phone,
		string(order.Status),
		order.StatusDetail,
		string(itemsJSON),
		order.Delivered,
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, selectOrder+` WHERE id = ?`, id)
}

func (r *SQLRepository) GetOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error) {
	return r.getOne(ctx, selectOrder+` WHERE transaction_id = ?`, transactionID)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return row.toDomain()
}

func (r *SQLRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	var rows []orderRow
	query := r.db.Rebind(selectOrder + ` WHERE user_id = ? ORDER BY created_at DESC`)
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}

	orders := make([]*domain.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, detail string) error {
	query := r.db.Rebind(`UPDATE orders SET status = ?, status_detail = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, string(status), detail, time.Now().UTC(), id)
}

func (r *SQLRepository) MarkDelivered(ctx context.Context, id string, delivered bool) error {
	query := r.db.Rebind(`UPDATE orders SET delivered = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, delivered, time.Now().UTC(), id)
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
