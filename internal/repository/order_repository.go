package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/santehsupply/orders-api/internal/authz"
	"github.com/santehsupply/orders-api/internal/database"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/pkg/logger"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrDatabase = errors.New("database error")
)

// OrderRepository handles database operations for orders and their items.
// Mutations that must be observable atomically (order+items, any write
// paired with an outbox message) run in a single transaction.
type OrderRepository struct {
	db     *database.Database
	outbox *OutboxRepository
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, outbox *OutboxRepository, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		outbox: outbox,
		logger: logger,
	}
}

const orderColumns = `id, customer_id, status_id, assigned_employee_id, total_amount, created_at, updated_at`

// Create inserts an order, its line items, and the outbox message in one
// transaction. On success the order and item ids are filled in. The
// message is built via newMsg after the order id is assigned, so the
// event carries the real aggregate id.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, newMsg func() (*models.OutboxMessage, error)) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO orders (customer_id, status_id, assigned_employee_id, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		order.CustomerID,
		int(order.Status),
		order.AssignedEmployeeID,
		order.TotalAmount,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)

	if err != nil {
		r.logger.Error("Failed to insert order", "error", err, "customerID", order.CustomerID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
		).Scan(&item.ID)

		if err != nil {
			r.logger.Error("Failed to insert order item", "error", err, "orderID", order.ID, "productID", item.ProductID)
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}

	if newMsg != nil {
		msg, err := newMsg()
		if err != nil {
			return err
		}
		if err := r.outbox.CreateInTx(tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetByID retrieves an order with its items, bounded by the scope. An
// order outside the scope is reported as not found.
func (r *OrderRepository) GetByID(ctx context.Context, id int64, scope authz.Scope) (*models.Order, error) {
	clause, scopeArgs := scope.Clause()

	query := r.db.DB.Rebind(fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE id = ? AND %s
	`, orderColumns, clause))

	args := append([]interface{}{id}, scopeArgs...)

	var order models.Order
	if err := r.db.DB.GetContext(ctx, &order, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	items, err := r.getItems(ctx, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return &order, nil
}

// List retrieves all orders inside the scope, newest first, with items.
func (r *OrderRepository) List(ctx context.Context, scope authz.Scope) ([]*models.Order, error) {
	clause, scopeArgs := scope.Clause()

	query := r.db.DB.Rebind(fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, orderColumns, clause))

	var orders []*models.Order
	if err := r.db.DB.SelectContext(ctx, &orders, query, scopeArgs...); err != nil {
		r.logger.Error("Failed to list orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if len(orders) == 0 {
		return []*models.Order{}, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	itemsByOrder, err := r.getItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, o := range orders {
		o.Items = itemsByOrder[o.ID]
	}

	return orders, nil
}

// Update persists the order's status, assignment, and updated_at, with
// an optional outbox message in the same transaction.
func (r *OrderRepository) Update(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status_id = $1, assigned_employee_id = $2, updated_at = $3
		WHERE id = $4
	`,
		int(order.Status),
		order.AssignedEmployeeID,
		order.UpdatedAt,
		order.ID,
	)

	if err != nil {
		r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if msg != nil {
		if err := r.outbox.CreateInTx(tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// Claim atomically assigns an unclaimed Created order to the employee
// and moves it to Processing. The conditional update is the only guard
// against two employees racing for the same order; a read-then-write
// pair here would lose that race. Returns nil when no row matched,
// which covers both a missing order and one another claimant already
// took; callers that need to tell those apart check existence
// separately. The message is built via newMsg from the claimed row so
// the event reflects the committed state.
func (r *OrderRepository) Claim(ctx context.Context, id, employeeID int64, newMsg func(*models.Order) (*models.OutboxMessage, error)) (*models.Order, error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	var order models.Order
	err = tx.QueryRowxContext(ctx, `
		UPDATE orders
		SET status_id = $1, assigned_employee_id = $2, updated_at = $3
		WHERE id = $4 AND status_id = $5 AND assigned_employee_id IS NULL
		RETURNING `+orderColumns,
		int(models.StatusProcessing),
		employeeID,
		time.Now().UTC(),
		id,
		int(models.StatusCreated),
	).StructScan(&order)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to claim order", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if newMsg != nil {
		msg, err := newMsg(&order)
		if err != nil {
			return nil, err
		}
		if err := r.outbox.CreateInTx(tx, msg); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	items, err := r.getItems(ctx, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return &order, nil
}

// Delete removes an order; items and comments go with it via FK cascade.
func (r *OrderRepository) Delete(ctx context.Context, id int64, msg *models.OutboxMessage) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete order", "error", err, "orderID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if msg != nil {
		if err := r.outbox.CreateInTx(tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// ExistsByID reports whether the order exists, regardless of scope. Used
// by the comment collaborator, which does its own visibility check.
func (r *OrderRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool

	err := r.db.DB.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id)
	if err != nil {
		r.logger.Error("Failed to check order existence", "error", err, "orderID", id)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

func (r *OrderRepository) getItems(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	var items []models.OrderItem

	err := r.db.DB.SelectContext(ctx, &items, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))

	if err != nil {
		r.logger.Error("Failed to get order items", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	byOrder := make(map[int64][]models.OrderItem, len(orderIDs))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	return byOrder, nil
}
