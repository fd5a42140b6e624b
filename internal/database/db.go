package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/santehsupply/orders-api/internal/config"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunMigrations bootstraps the schema. OrderItems and comments cascade
// on order deletion; assigned_employee_id is restricted so an employee
// with active assignments cannot be removed.
func (d *Database) RunMigrations() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		role_id INT NOT NULL,
		full_name VARCHAR(200) NOT NULL,
		email VARCHAR(200) NOT NULL UNIQUE,
		password_hash VARCHAR(200) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		customer_id INT NOT NULL REFERENCES users(id),
		status_id INT NOT NULL,
		assigned_employee_id INT REFERENCES users(id) ON DELETE RESTRICT,
		total_amount NUMERIC(12, 2) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status_id ON orders(status_id);
	CREATE INDEX IF NOT EXISTS idx_orders_assigned_employee_id ON orders(assigned_employee_id);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id INT NOT NULL,
		product_name VARCHAR(200) NOT NULL DEFAULT '',
		quantity INT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12, 2) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

	CREATE TABLE IF NOT EXISTS comments (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		user_id INT NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_comments_order_id ON comments(order_id);

	-- Outbox table for event publishing
	CREATE TABLE IF NOT EXISTS outbox_messages (
		id SERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMP,
		processing_attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
	CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
	`

	_, err := d.DB.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
