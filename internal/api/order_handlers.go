package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/santehsupply/orders-api/internal/auth"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/internal/service"
)

type updateStatusRequest struct {
	StatusID int `json:"status_id"`
}

type updateAssigneeRequest struct {
	EmployeeID int64 `json:"employee_id"`
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		s.respondWithError(w, http.StatusUnauthorized, "authentication required")
		return models.Principal{}, false
	}
	return p, true
}

func orderID(r *http.Request) int64 {
	// The route pattern restricts {id} to digits.
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// getOrdersHandler lists the orders visible to the caller, newest first
func (s *Server) getOrdersHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	orders, err := s.orderService.ListOrders(r.Context(), p)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    orders,
	})
}

// createOrderHandler creates a new order for the caller
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	var input service.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.orderService.CreateOrder(r.Context(), p, input)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getOrderByIDHandler returns one order, if the caller may see it
func (s *Server) getOrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	order, err := s.orderService.GetOrder(r.Context(), p, orderID(r))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// updateOrderStatusHandler moves an order through its lifecycle
func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.orderService.SetStatus(r.Context(), p, orderID(r), models.Status(req.StatusID))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// updateOrderAssigneeHandler sets or clears the assigned employee
func (s *Server) updateOrderAssigneeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req updateAssigneeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.orderService.Assign(r.Context(), p, orderID(r), req.EmployeeID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// claimOrderHandler takes an unassigned new order into work
func (s *Server) claimOrderHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	order, err := s.orderService.Claim(r.Context(), p, orderID(r))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// deleteOrderHandler removes an order and its items and comments
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	if err := s.orderService.DeleteOrder(r.Context(), p, orderID(r)); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
	})
}

// orderExistsHandler reports bare order existence for the comment
// service
func (s *Server) orderExistsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}

	exists, err := s.orderService.OrderExists(r.Context(), orderID(r))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]bool{"exists": exists},
	})
}
