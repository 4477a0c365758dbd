// Package domain defines the core interfaces and types for Vasool.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Invoice operations
	SaveInvoice(ctx context.Context, tenantID string, inv *Invoice) error
	SaveInvoices(ctx context.Context, tenantID string, invs []*Invoice) error
	GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*Invoice, error)
	ListInvoices(ctx context.Context, tenantID string) ([]*Invoice, error)
	DeleteInvoice(ctx context.Context, tenantID string, invoiceID string) error

	// Customer operations
	SaveCustomer(ctx context.Context, tenantID string, c *Customer) error
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*Customer, error)
	GetCustomerByName(ctx context.Context, tenantID string, name string) (*Customer, error)
	ListCustomers(ctx context.Context, tenantID string) ([]*Customer, error)

	// Protocol configuration, one per tenant
	SaveProtocol(ctx context.Context, tenantID string, p *Protocol) error
	GetProtocol(ctx context.Context, tenantID string) (*Protocol, error)

	// Follow-up activity log
	SaveFollowUp(ctx context.Context, tenantID string, f *FollowUp) error
	GetFollowUp(ctx context.Context, tenantID string, followUpID string) (*FollowUp, error)
	ListFollowUps(ctx context.Context, tenantID string, limit int) ([]*FollowUp, error)
	ListFollowUpsByCustomer(ctx context.Context, tenantID string, nameKey string, since time.Time) ([]*FollowUp, error)

	// Collection policies
	SavePolicy(ctx context.Context, tenantID string, p *Policy) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*Policy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
