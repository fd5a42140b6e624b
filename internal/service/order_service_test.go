package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santehsupply/orders-api/internal/authz"
	"github.com/santehsupply/orders-api/internal/clients"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/internal/repository"
	"github.com/santehsupply/orders-api/internal/service"
	apperrors "github.com/santehsupply/orders-api/pkg/errors"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// fakeOrderStore is an in-memory OrderStore with the same visibility
// and compare-and-swap semantics as the Postgres repository.
type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
	events []*models.OutboxMessage
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[int64]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.AssignedEmployeeID != nil {
		id := *o.AssignedEmployeeID
		c.AssignedEmployeeID = &id
	}
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func (s *fakeOrderStore) Create(ctx context.Context, order *models.Order, newMsg func() (*models.OutboxMessage, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	order.ID = s.nextID
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)

	if newMsg != nil {
		msg, err := newMsg()
		if err != nil {
			return err
		}
		s.events = append(s.events, msg)
	}
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id int64, scope authz.Scope) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !scope.Matches(o) {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *fakeOrderStore) List(ctx context.Context, scope authz.Scope) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Order
	for _, o := range s.orders {
		if scope.Matches(o) {
			out = append(out, cloneOrder(o))
		}
	}
	// Newest first, matching the repository's ORDER BY.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *fakeOrderStore) Update(ctx context.Context, order *models.Order, msg *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; !ok {
		return repository.ErrNotFound
	}
	s.orders[order.ID] = cloneOrder(order)
	if msg != nil {
		s.events = append(s.events, msg)
	}
	return nil
}

func (s *fakeOrderStore) Claim(ctx context.Context, id, employeeID int64, newMsg func(*models.Order) (*models.OutboxMessage, error)) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[id]
	if !ok || cur.Status != models.StatusCreated || cur.AssignedEmployeeID != nil {
		return nil, nil
	}
	cur.Status = models.StatusProcessing
	cur.AssignedEmployeeID = &employeeID
	cur.UpdatedAt = time.Now().UTC()

	if newMsg != nil {
		msg, err := newMsg(cur)
		if err != nil {
			return nil, err
		}
		s.events = append(s.events, msg)
	}
	return cloneOrder(cur), nil
}

func (s *fakeOrderStore) Delete(ctx context.Context, id int64, msg *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.orders, id)
	if msg != nil {
		s.events = append(s.events, msg)
	}
	return nil
}

func (s *fakeOrderStore) ExistsByID(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.orders[id]
	return ok, nil
}

func (s *fakeOrderStore) seed(o models.Order) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	o.ID = s.nextID
	s.orders[o.ID] = cloneOrder(&o)
	return s.orders[o.ID]
}

func (s *fakeOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *fakeOrderStore) get(id int64) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *fakeOrderStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var types []string
	for _, e := range s.events {
		types = append(types, e.EventType)
	}
	return types
}

type fakeCatalog struct {
	products map[int64]clients.ProductResponse
}

func (c *fakeCatalog) GetProduct(ctx context.Context, productID int64) (*clients.ProductResponse, error) {
	p, ok := c.products[productID]
	if !ok {
		return nil, apperrors.NewAppError(apperrors.ErrProductNotFound, "product not found", 404, false)
	}
	return &p, nil
}

type fakeUsers struct {
	users map[int64]*models.User
}

func (d *fakeUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

var (
	client   = models.Principal{UserID: 10, Role: models.RoleClient, Name: "Ivan"}
	client2  = models.Principal{UserID: 11, Role: models.RoleClient, Name: "Pyotr"}
	employee = models.Principal{UserID: 20, Role: models.RoleEmployee, Name: "Olga"}
	worker   = models.Principal{UserID: 21, Role: models.RoleEmployee, Name: "Sergei"}
	admin    = models.Principal{UserID: 30, Role: models.RoleAdmin, Name: "Root"}
)

func newTestService() (*service.OrderService, *fakeOrderStore) {
	store := newFakeOrderStore()
	catalog := &fakeCatalog{products: map[int64]clients.ProductResponse{
		1: {ProductID: 1, Name: "Ball valve 1/2\"", Price: decimal.NewFromFloat(75.25)},
		2: {ProductID: 2, Name: "PP pipe 20mm", Price: decimal.NewFromFloat(99.50)},
	}}
	users := &fakeUsers{users: map[int64]*models.User{
		10: {ID: 10, RoleID: models.RoleClient, FullName: "Ivan"},
		20: {ID: 20, RoleID: models.RoleEmployee, FullName: "Olga"},
		21: {ID: 21, RoleID: models.RoleEmployee, FullName: "Sergei"},
		30: {ID: 30, RoleID: models.RoleAdmin, FullName: "Root"},
	}}
	return service.NewOrderService(store, catalog, users, logger.Nop()), store
}

func seedOrder(store *fakeOrderStore, customerID int64, status models.Status, assignee *int64) *models.Order {
	now := time.Now().UTC().Add(-time.Hour)
	return store.seed(models.Order{
		CustomerID:         customerID,
		Status:             status,
		AssignedEmployeeID: assignee,
		TotalAmount:        decimal.NewFromInt(100),
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func ptr(v int64) *int64 { return &v }

func TestCreateOrder(t *testing.T) {
	t.Run("snapshots_prices_and_computes_total", func(t *testing.T) {
		svc, store := newTestService()

		order, err := svc.CreateOrder(context.Background(), client, service.CreateOrderInput{
			Items: []service.CreateOrderItemInput{
				{ProductID: 1, Quantity: 2},
				{ProductID: 2, Quantity: 1},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, client.UserID, order.CustomerID)
		assert.Equal(t, models.StatusCreated, order.Status)
		assert.Nil(t, order.AssignedEmployeeID)
		assert.True(t, order.TotalAmount.Equal(decimal.NewFromFloat(250.00)),
			"total = %s", order.TotalAmount)

		require.Len(t, order.Items, 2)
		assert.Equal(t, "Ball valve 1/2\"", order.Items[0].ProductName)
		assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromFloat(75.25)))

		assert.Equal(t, []string{models.EventOrderCreated}, store.eventTypes())
	})

	t.Run("empty_order", func(t *testing.T) {
		svc, store := newTestService()

		_, err := svc.CreateOrder(context.Background(), client, service.CreateOrderInput{})

		assert.ErrorIs(t, err, apperrors.ErrEmptyOrder)
		assert.Zero(t, store.count(), "nothing should be persisted")
	})

	t.Run("non_positive_quantity", func(t *testing.T) {
		svc, store := newTestService()

		_, err := svc.CreateOrder(context.Background(), client, service.CreateOrderInput{
			Items: []service.CreateOrderItemInput{{ProductID: 1, Quantity: 0}},
		})

		assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)
		assert.Zero(t, store.count())
	})

	t.Run("unknown_product", func(t *testing.T) {
		svc, store := newTestService()

		_, err := svc.CreateOrder(context.Background(), client, service.CreateOrderInput{
			Items: []service.CreateOrderItemInput{{ProductID: 999, Quantity: 1}},
		})

		assert.ErrorIs(t, err, apperrors.ErrProductNotFound)
		assert.Zero(t, store.count())
	})
}

func TestOrderVisibility(t *testing.T) {
	svc, store := newTestService()

	ownCreated := seedOrder(store, client.UserID, models.StatusCreated, nil)
	otherCreated := seedOrder(store, client2.UserID, models.StatusCreated, nil)
	otherAssignedToEmployee := seedOrder(store, client2.UserID, models.StatusProcessing, ptr(employee.UserID))
	otherAssignedElsewhere := seedOrder(store, client2.UserID, models.StatusProcessing, ptr(worker.UserID))

	tests := []struct {
		name      string
		principal models.Principal
		wantIDs   []int64
	}{
		{
			name:      "client_sees_only_own",
			principal: client,
			wantIDs:   []int64{ownCreated.ID},
		},
		{
			name:      "employee_sees_new_own_and_assigned",
			principal: employee,
			wantIDs:   []int64{ownCreated.ID, otherCreated.ID, otherAssignedToEmployee.ID},
		},
		{
			name:      "admin_sees_everything",
			principal: admin,
			wantIDs:   []int64{ownCreated.ID, otherCreated.ID, otherAssignedToEmployee.ID, otherAssignedElsewhere.ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := svc.ListOrders(context.Background(), tt.principal)
			require.NoError(t, err)

			var ids []int64
			for _, o := range orders {
				ids = append(ids, o.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}

	t.Run("unknown_role_is_denied", func(t *testing.T) {
		_, err := svc.ListOrders(context.Background(), models.Principal{UserID: 99, Role: 42})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("out_of_scope_order_reads_as_missing", func(t *testing.T) {
		_, err := svc.GetOrder(context.Background(), client, otherAssignedElsewhere.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		got, err := svc.GetOrder(context.Background(), client, ownCreated.ID)
		require.NoError(t, err)
		assert.Equal(t, ownCreated.ID, got.ID)
	})
}

func TestListOrdersNewestFirst(t *testing.T) {
	svc, store := newTestService()

	base := time.Now().UTC().Add(-24 * time.Hour)
	var seeded []int64
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		o := store.seed(models.Order{
			CustomerID:  client.UserID,
			Status:      models.StatusCreated,
			TotalAmount: decimal.NewFromInt(100),
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
		seeded = append(seeded, o.ID)
	}

	orders, err := svc.ListOrders(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, orders, len(seeded))

	for i, o := range orders {
		assert.Equal(t, seeded[len(seeded)-1-i], o.ID, "position %d", i)
	}
}

func TestSetStatus(t *testing.T) {
	t.Run("client_is_forbidden", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.SetStatus(context.Background(), client, o.ID, models.StatusProcessing)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("unknown_status_is_rejected", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.SetStatus(context.Background(), employee, o.ID, models.Status(9))
		assert.ErrorIs(t, err, apperrors.ErrInvalidStatus)
	})

	t.Run("employee_taking_order_into_work_becomes_assignee", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		updated, err := svc.SetStatus(context.Background(), employee, o.ID, models.StatusProcessing)

		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, updated.Status)
		require.NotNil(t, updated.AssignedEmployeeID)
		assert.Equal(t, employee.UserID, *updated.AssignedEmployeeID)
		assert.Equal(t, []string{models.EventOrderStatusChanged}, store.eventTypes())
	})

	t.Run("existing_assignee_is_kept", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(worker.UserID))

		updated, err := svc.SetStatus(context.Background(), worker, o.ID, models.StatusAssembled)

		require.NoError(t, err)
		require.NotNil(t, updated.AssignedEmployeeID)
		assert.Equal(t, worker.UserID, *updated.AssignedEmployeeID)
	})

	t.Run("returning_to_new_clears_assignee", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(employee.UserID))

		updated, err := svc.SetStatus(context.Background(), employee, o.ID, models.StatusCreated)

		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, updated.Status)
		assert.Nil(t, updated.AssignedEmployeeID)
	})

	t.Run("employee_cannot_leave_terminal_state", func(t *testing.T) {
		svc, store := newTestService()

		for _, status := range []models.Status{models.StatusCompleted, models.StatusCancelled} {
			o := seedOrder(store, client.UserID, status, ptr(employee.UserID))

			_, err := svc.SetStatus(context.Background(), employee, o.ID, models.StatusProcessing)
			assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "from %s", status)
		}
	})

	t.Run("admin_may_correct_terminal_state", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCancelled, nil)

		updated, err := svc.SetStatus(context.Background(), admin, o.ID, models.StatusProcessing)

		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, updated.Status)
		assert.Nil(t, updated.AssignedEmployeeID, "admin changes never auto-assign")
	})

	t.Run("same_status_refreshes_updated_at_without_event", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(employee.UserID))
		before := o.UpdatedAt

		updated, err := svc.SetStatus(context.Background(), employee, o.ID, models.StatusProcessing)

		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, updated.Status)
		assert.True(t, updated.UpdatedAt.After(before))
		assert.Empty(t, store.eventTypes())
	})

	t.Run("invisible_order_reads_as_missing", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client2.UserID, models.StatusProcessing, ptr(worker.UserID))

		_, err := svc.SetStatus(context.Background(), employee, o.ID, models.StatusAssembled)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestAssign(t *testing.T) {
	t.Run("client_is_forbidden", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Assign(context.Background(), client, o.ID, employee.UserID)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("employee_may_only_assign_self", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Assign(context.Background(), employee, o.ID, worker.UserID)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)

		updated, err := svc.Assign(context.Background(), employee, o.ID, employee.UserID)
		require.NoError(t, err)
		require.NotNil(t, updated.AssignedEmployeeID)
		assert.Equal(t, employee.UserID, *updated.AssignedEmployeeID)
	})

	t.Run("admin_assigns_anyone_and_unassigns", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(employee.UserID))

		updated, err := svc.Assign(context.Background(), admin, o.ID, worker.UserID)
		require.NoError(t, err)
		assert.Equal(t, worker.UserID, *updated.AssignedEmployeeID)

		updated, err = svc.Assign(context.Background(), admin, o.ID, 0)
		require.NoError(t, err)
		assert.Nil(t, updated.AssignedEmployeeID)
	})

	t.Run("employee_cannot_unassign", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(employee.UserID))

		_, err := svc.Assign(context.Background(), employee, o.ID, 0)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("assignee_must_be_an_employee", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Assign(context.Background(), admin, o.ID, client.UserID)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAssignee)

		_, err = svc.Assign(context.Background(), admin, o.ID, 12345)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAssignee)
	})

	t.Run("emits_assignment_event", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Assign(context.Background(), admin, o.ID, employee.UserID)
		require.NoError(t, err)
		assert.Equal(t, []string{models.EventOrderAssigned}, store.eventTypes())
	})
}

func TestClaim(t *testing.T) {
	t.Run("employee_claims_new_order", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		claimed, err := svc.Claim(context.Background(), employee, o.ID)

		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, claimed.Status)
		require.NotNil(t, claimed.AssignedEmployeeID)
		assert.Equal(t, employee.UserID, *claimed.AssignedEmployeeID)
		assert.Equal(t, []string{models.EventOrderClaimed}, store.eventTypes())
	})

	t.Run("second_claim_loses", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Claim(context.Background(), employee, o.ID)
		require.NoError(t, err)

		_, err = svc.Claim(context.Background(), worker, o.ID)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)
	})

	t.Run("missing_order_reads_as_missing", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.Claim(context.Background(), employee, 404)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("assigned_order_is_already_claimed_even_when_invisible", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusProcessing, ptr(worker.UserID))

		// The order is outside the claimant's visible set, yet the
		// answer is still "taken", not "missing".
		_, err := svc.Claim(context.Background(), employee, o.ID)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)
	})

	t.Run("only_employees_claim", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		_, err := svc.Claim(context.Background(), client, o.ID)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)

		_, err = svc.Claim(context.Background(), admin, o.ID)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("concurrent_claims_have_one_winner", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		const contenders = 8
		var wg sync.WaitGroup
		results := make(chan error, contenders)

		for i := 0; i < contenders; i++ {
			wg.Add(1)
			p := models.Principal{UserID: int64(100 + i), Role: models.RoleEmployee}
			go func() {
				defer wg.Done()
				_, err := svc.Claim(context.Background(), p, o.ID)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins, losses int
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperrors.ErrAlreadyClaimed):
				losses++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, contenders-1, losses)

		final := store.get(o.ID)
		assert.Equal(t, models.StatusProcessing, final.Status)
		assert.NotNil(t, final.AssignedEmployeeID)
	})
}

func TestDeleteOrder(t *testing.T) {
	t.Run("admin_only", func(t *testing.T) {
		svc, store := newTestService()
		o := seedOrder(store, client.UserID, models.StatusCreated, nil)

		assert.ErrorIs(t, svc.DeleteOrder(context.Background(), client, o.ID), apperrors.ErrForbidden)
		assert.ErrorIs(t, svc.DeleteOrder(context.Background(), employee, o.ID), apperrors.ErrForbidden)

		require.NoError(t, svc.DeleteOrder(context.Background(), admin, o.ID))
		assert.Zero(t, store.count())
		assert.Equal(t, []string{models.EventOrderDeleted}, store.eventTypes())
	})

	t.Run("missing_order", func(t *testing.T) {
		svc, _ := newTestService()
		assert.ErrorIs(t, svc.DeleteOrder(context.Background(), admin, 404), apperrors.ErrNotFound)
	})
}

func TestOrderExists(t *testing.T) {
	svc, store := newTestService()
	o := seedOrder(store, client.UserID, models.StatusCreated, nil)

	exists, err := svc.OrderExists(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.OrderExists(context.Background(), o.ID+1)
	require.NoError(t, err)
	assert.False(t, exists)
}
