package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openmetro/parcelview/internal/auth"
	"github.com/openmetro/parcelview/internal/model"
)

// UserRepo provides data access for the users table.
type UserRepo struct{ db *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// NewUserParams carries the validated registration fields.
type NewUserParams struct {
	Username    string
	Email       string
	Password    string
	PhoneNumber string
	CompanyName string
}

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Create inserts a user with a freshly hashed password and returns the new
// row. Duplicate username or email surfaces as ErrConflict. The disclaimer
// acceptance timestamp is stamped here because registration is rejected at
// the boundary unless the disclaimer was accepted.
func (r *UserRepo) Create(ctx context.Context, p NewUserParams, bcryptCost int) (model.User, error) {
	hash, err := auth.HashPassword(p.Password, bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	err = r.db.GetContext(ctx, &u, `
		INSERT INTO users (username, email, password_hash, role, phone_number, company_name, disclaimer_accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING *`,
		strings.ToLower(strings.TrimSpace(p.Username)),
		strings.ToLower(strings.TrimSpace(p.Email)),
		hash, model.RoleUser, p.PhoneNumber, p.CompanyName)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.User{}, ErrConflict
		}
		return model.User{}, err
	}
	return u, nil
}

// GetByUsername fetches a user by normalized username. ErrNotFound on miss.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u,
		`SELECT * FROM users WHERE username = $1 LIMIT 1`,
		strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id. ErrNotFound on miss.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1 LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}
