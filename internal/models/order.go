package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is an order lifecycle status. The ids match the seeded
// order_statuses rows of the retail system.
type Status int

const (
	StatusCreated    Status = 1
	StatusProcessing Status = 2
	StatusAssembled  Status = 3
	StatusReady      Status = 4
	StatusCompleted  Status = 5
	StatusCancelled  Status = 6
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s >= StatusCreated && s <= StatusCancelled
}

// Terminal reports whether s ends the lifecycle. Only an admin may move
// an order out of a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether s means someone is working the order. Cancelled
// is not active: a cancelled order was abandoned, not claimed.
func (s Status) Active() bool {
	return s >= StatusProcessing && s <= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusProcessing:
		return "processing"
	case StatusAssembled:
		return "assembled"
	case StatusReady:
		return "ready"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order represents one customer purchase
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	CustomerID         int64           `db:"customer_id" json:"customer_id"`
	Status             Status          `db:"status_id" json:"status_id"`
	AssignedEmployeeID *int64          `db:"assigned_employee_id" json:"assigned_employee_id,omitempty"`
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	Items              []OrderItem     `db:"-" json:"items,omitempty"`
}

// Assigned reports whether the order has an assigned employee
func (o *Order) Assigned() bool {
	return o.AssignedEmployeeID != nil
}

// OrderItem is one product line within an order. Quantity and unit price
// are frozen at creation time; later catalog changes never touch them.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name,omitempty"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// NewOrder creates an unassigned order in the Created status
func NewOrder(customerID int64, total decimal.Decimal, items []OrderItem) *Order {
	now := GetCurrentTime()

	return &Order{
		CustomerID:  customerID,
		Status:      StatusCreated,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       items,
	}
}
