// Package orders stores orders created from approved payments.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateTransaction = errors.New("order for this transaction already exists")
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	SQLitePath        string
	MigrationsDirPath string
}

// DSN returns the connection string for the configured driver.
func (c *Credentials) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode), nil
	case DriverSQLite:
		if c.SQLitePath == "" {
			return "", errors.New("sqlite path is required")
		}
		return c.SQLitePath, nil
	default:
		return "", fmt.Errorf("unsupported orders driver %q", c.Driver)
	}
}

type Repository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, detail string) error
	MarkDelivered(ctx context.Context, id string, delivered bool) error
}
