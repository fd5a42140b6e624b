package authz

import (
	"github.com/santehsupply/orders-api/internal/models"
	apperrors "github.com/santehsupply/orders-api/pkg/errors"
)

// Scope is the role-dependent predicate that bounds which orders a
// principal may read. Every order query goes through one scope, whether
// listing or fetching by id, so an order outside the scope is
// indistinguishable from one that does not exist.
type Scope struct {
	all        bool
	customerID int64
	employeeID int64
}

// OrderScope builds the scope for a principal. Exactly one role branch
// applies:
//   - clients see their own orders,
//   - employees see the unclaimed pool, their own purchases, and their
//     active assignments,
//   - admins see everything.
//
// An unknown role yields a forbidden error rather than an empty scope.
func OrderScope(p models.Principal) (Scope, error) {
	switch p.Role {
	case models.RoleClient:
		return Scope{customerID: p.UserID}, nil
	case models.RoleEmployee:
		return Scope{customerID: p.UserID, employeeID: p.UserID}, nil
	case models.RoleAdmin:
		return Scope{all: true}, nil
	default:
		return Scope{}, apperrors.NewForbiddenError("unknown role")
	}
}

// Clause renders the scope as a SQL predicate with `?` bindvars, to be
// rebound by the repository for the target driver.
func (s Scope) Clause() (string, []interface{}) {
	if s.all {
		return "TRUE", nil
	}

	if s.employeeID != 0 {
		return "(status_id = ? OR customer_id = ? OR assigned_employee_id = ?)",
			[]interface{}{int(models.StatusCreated), s.customerID, s.employeeID}
	}

	return "customer_id = ?", []interface{}{s.customerID}
}

// Matches evaluates the scope against an order in memory. It mirrors
// Clause exactly; in-memory stores and tests rely on the two agreeing.
func (s Scope) Matches(o *models.Order) bool {
	if s.all {
		return true
	}

	if s.employeeID != 0 {
		return o.Status == models.StatusCreated ||
			o.CustomerID == s.customerID ||
			(o.AssignedEmployeeID != nil && *o.AssignedEmployeeID == s.employeeID)
	}

	return o.CustomerID == s.customerID
}
