package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/santehsupply/orders-api/internal/authz"
	"github.com/santehsupply/orders-api/internal/clients"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/internal/repository"
	apperrors "github.com/santehsupply/orders-api/pkg/errors"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// OrderStore is the persistence surface the service needs. Satisfied by
// repository.OrderRepository in production and by in-memory fakes in
// tests.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order, newMsg func() (*models.OutboxMessage, error)) error
	GetByID(ctx context.Context, id int64, scope authz.Scope) (*models.Order, error)
	List(ctx context.Context, scope authz.Scope) ([]*models.Order, error)
	Update(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error
	Claim(ctx context.Context, id, employeeID int64, newMsg func(*models.Order) (*models.OutboxMessage, error)) (*models.Order, error)
	Delete(ctx context.Context, id int64, msg *models.OutboxMessage) error
	ExistsByID(ctx context.Context, id int64) (bool, error)
}

// ProductCatalog resolves product ids to names and current prices.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*clients.ProductResponse, error)
}

// UserDirectory looks up users for assignee validation.
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// OrderService owns the order lifecycle: creation with server-side
// price snapshots, status transitions, assignment, claiming and
// deletion. Every mutation carries its outbox event in the same
// transaction as the row change.
type OrderService struct {
	orders  OrderStore
	catalog ProductCatalog
	users   UserDirectory
	logger  logger.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(
	orders OrderStore,
	catalog ProductCatalog,
	users UserDirectory,
	logger logger.Logger,
) *OrderService {
	return &OrderService{
		orders:  orders,
		catalog: catalog,
		users:   users,
		logger:  logger,
	}
}

// CreateOrderItemInput is one requested line of a new order. Prices are
// never accepted from the caller.
type CreateOrderItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CreateOrderInput is the payload for creating an order.
type CreateOrderInput struct {
	Items []CreateOrderItemInput `json:"items"`
}

// CreateOrder validates the requested items, snapshots unit prices from
// the catalog and persists the order, its items and the order_created
// event in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, p models.Principal, input CreateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrEmptyOrder, "order must contain at least one item", http.StatusUnprocessableEntity, false)
	}

	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, apperrors.NewAppError(
				apperrors.ErrInvalidQuantity,
				fmt.Sprintf("quantity must be positive for product %d", item.ProductID),
				http.StatusUnprocessableEntity,
				false,
			)
		}
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	total := decimal.Zero

	for _, item := range input.Items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrProductNotFound) {
				return nil, err
			}
			s.logger.Error("Catalog lookup failed", "error", err, "productID", item.ProductID)
			return nil, err
		}

		items = append(items, models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	order := models.NewOrder(p.UserID, total.Round(2), items)

	// The event is built inside the transaction, once the order id is
	// assigned.
	newMsg := func() (*models.OutboxMessage, error) {
		return models.NewOrderCreatedEvent(order)
	}

	if err := s.orders.Create(ctx, order, newMsg); err != nil {
		s.logger.Error("Failed to create order", "error", err, "customerID", p.UserID)
		return nil, storeError(err)
	}

	s.logger.Info("Order created", "orderID", order.ID, "customerID", p.UserID, "total", order.TotalAmount)
	return order, nil
}

// GetOrder fetches one order within the caller's visibility scope. An
// order outside the scope is indistinguishable from a missing one.
func (s *OrderService) GetOrder(ctx context.Context, p models.Principal, orderID int64) (*models.Order, error) {
	scope, err := authz.OrderScope(p)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID, scope)
	if err != nil {
		return nil, storeError(err)
	}

	return order, nil
}

// ListOrders returns every order the caller may see, newest first.
func (s *OrderService) ListOrders(ctx context.Context, p models.Principal) ([]*models.Order, error) {
	scope, err := authz.OrderScope(p)
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.List(ctx, scope)
	if err != nil {
		return nil, storeError(err)
	}

	return orders, nil
}

// SetStatus moves an order to newStatus, applying the transition rules:
// clients may not change status, employees may not leave terminal
// states, and an employee taking an unassigned order into work becomes
// its assignee.
func (s *OrderService) SetStatus(ctx context.Context, p models.Principal, orderID int64, newStatus models.Status) (*models.Order, error) {
	if p.Role == models.RoleClient {
		return nil, apperrors.NewForbiddenError("clients may not change order status")
	}

	if !newStatus.Valid() {
		return nil, apperrors.NewAppError(
			apperrors.ErrInvalidStatus,
			fmt.Sprintf("unknown status %d", newStatus),
			http.StatusUnprocessableEntity,
			false,
		)
	}

	scope, err := authz.OrderScope(p)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID, scope)
	if err != nil {
		return nil, storeError(err)
	}

	if order.Status == newStatus {
		// Idempotent repeat: nothing moves, but the touch is recorded.
		order.UpdatedAt = models.GetCurrentTime()
		if err := s.orders.Update(ctx, order, nil); err != nil {
			return nil, storeError(err)
		}
		return order, nil
	}

	if p.Role == models.RoleEmployee && order.Status.Terminal() {
		return nil, apperrors.NewAppError(
			apperrors.ErrInvalidTransition,
			fmt.Sprintf("order is already %s", order.Status),
			http.StatusUnprocessableEntity,
			false,
		)
	}

	oldStatus := order.Status
	order.Status = newStatus
	order.UpdatedAt = models.GetCurrentTime()

	if p.Role == models.RoleEmployee {
		if newStatus.Active() && !order.Assigned() {
			employeeID := p.UserID
			order.AssignedEmployeeID = &employeeID
		}
		if newStatus == models.StatusCreated {
			order.AssignedEmployeeID = nil
		}
	}

	msg, err := models.NewOrderStatusChangedEvent(order, oldStatus)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build event: %v", err))
	}

	if err := s.orders.Update(ctx, order, msg); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Order status changed",
		"orderID", order.ID,
		"from", oldStatus.String(),
		"to", newStatus.String(),
		"userID", p.UserID)
	return order, nil
}

// Assign sets or clears the order's assignee. Admins may assign anyone;
// employees may only assign themselves. employeeID 0 clears the
// assignment and is an admin-only operation.
func (s *OrderService) Assign(ctx context.Context, p models.Principal, orderID int64, employeeID int64) (*models.Order, error) {
	switch p.Role {
	case models.RoleAdmin:
	case models.RoleEmployee:
		if employeeID != p.UserID {
			return nil, apperrors.NewForbiddenError("employees may only assign orders to themselves")
		}
	default:
		return nil, apperrors.NewForbiddenError("not allowed to assign orders")
	}

	if employeeID != 0 {
		user, err := s.users.GetByID(ctx, employeeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalidAssignee(employeeID)
			}
			return nil, storeError(err)
		}
		if user.RoleID != models.RoleEmployee {
			return nil, invalidAssignee(employeeID)
		}
	}

	scope, err := authz.OrderScope(p)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID, scope)
	if err != nil {
		return nil, storeError(err)
	}

	if employeeID == 0 {
		order.AssignedEmployeeID = nil
	} else {
		id := employeeID
		order.AssignedEmployeeID = &id
	}
	order.UpdatedAt = models.GetCurrentTime()

	msg, err := models.NewOrderAssignedEvent(order)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build event: %v", err))
	}

	if err := s.orders.Update(ctx, order, msg); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Order assignee changed", "orderID", order.ID, "employeeID", employeeID, "userID", p.UserID)
	return order, nil
}

// Claim atomically takes an unassigned Created order into work for the
// calling employee. Under concurrent claims exactly one caller wins;
// the rest get AlreadyClaimed. The conditional update runs first, so a
// losing claimant is told the order is taken even though the winner's
// claim already moved it out of their visible set.
func (s *OrderService) Claim(ctx context.Context, p models.Principal, orderID int64) (*models.Order, error) {
	if p.Role != models.RoleEmployee {
		return nil, apperrors.NewForbiddenError("only employees may claim orders")
	}

	order, err := s.orders.Claim(ctx, orderID, p.UserID, func(claimed *models.Order) (*models.OutboxMessage, error) {
		msg, err := models.NewOrderClaimedEvent(claimed)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build event: %v", err))
		}
		return msg, nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	if order == nil {
		exists, err := s.orders.ExistsByID(ctx, orderID)
		if err != nil {
			return nil, storeError(err)
		}
		if !exists {
			return nil, apperrors.NewNotFoundError("order not available")
		}
		return nil, apperrors.NewAppError(
			apperrors.ErrAlreadyClaimed,
			"order has already been taken into work",
			http.StatusConflict,
			false,
		)
	}

	s.logger.Info("Order claimed", "orderID", order.ID, "employeeID", p.UserID)
	return order, nil
}

// DeleteOrder removes an order and, via FK cascade, its items and
// comment thread. Admin only.
func (s *OrderService) DeleteOrder(ctx context.Context, p models.Principal, orderID int64) error {
	if p.Role != models.RoleAdmin {
		return apperrors.NewForbiddenError("only administrators may delete orders")
	}

	msg, err := models.NewOrderDeletedEvent(orderID)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to build event: %v", err))
	}

	if err := s.orders.Delete(ctx, orderID, msg); err != nil {
		return storeError(err)
	}

	s.logger.Info("Order deleted", "orderID", orderID, "userID", p.UserID)
	return nil
}

// OrderExists reports bare existence. Consumed by the comment service,
// which enforces its own visibility rules.
func (s *OrderService) OrderExists(ctx context.Context, orderID int64) (bool, error) {
	exists, err := s.orders.ExistsByID(ctx, orderID)
	if err != nil {
		return false, storeError(err)
	}
	return exists, nil
}

func invalidAssignee(employeeID int64) error {
	return apperrors.NewAppError(
		apperrors.ErrInvalidAssignee,
		fmt.Sprintf("user %d cannot be assigned orders", employeeID),
		http.StatusUnprocessableEntity,
		false,
	)
}

// storeError translates repository sentinels into the API error
// taxonomy. A scoped miss is reported as plain NotFound so callers
// cannot discover orders outside their visibility.
func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError("order not available")
	case errors.Is(err, repository.ErrDatabase):
		return apperrors.NewTransientStoreError("storage temporarily unavailable")
	default:
		return err
	}
}
