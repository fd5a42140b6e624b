package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/santehsupply/orders-api/internal/database"
	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// UserRepository reads the users directory. The order core only needs it
// to verify that an assignee actually holds the Employee role.
type UserRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Database, logger logger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, role_id, full_name, email, created_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	if err := r.db.DB.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get user by ID", "error", err, "userID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &user, nil
}
