package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const userColumns = `id, login, email, password_hash, first_name, last_name, role, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Login,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Role,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByLogin = `SELECT ` + userColumns + ` FROM users WHERE lower(login) = lower($1)`

func (q *Queries) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByLogin, login))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

const loginOrEmailExists = `SELECT EXISTS (
    SELECT 1 FROM users WHERE lower(login) = lower($1) OR lower(email) = lower($1)
)`

// LoginOrEmailExists checks value against both the login and email columns.
func (q *Queries) LoginOrEmailExists(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, loginOrEmailExists, value).Scan(&exists)
	return exists, err
}

const createUser = `INSERT INTO users (login, email, password_hash, first_name, last_name, role)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns

type CreateUserParams struct {
	Login        string
	Email        string
	PasswordHash string
	FirstName    sql.NullString
	LastName     sql.NullString
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser,
		arg.Login,
		arg.Email,
		arg.PasswordHash,
		arg.FirstName,
		arg.LastName,
		arg.Role,
	)
	return scanUser(row)
}

const updateUserPassword = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`

type UpdateUserPasswordParams struct {
	ID           uuid.UUID
	PasswordHash string
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) error {
	_, err := q.db.ExecContext(ctx, updateUserPassword, arg.ID, arg.PasswordHash)
	return err
}

const updateUserProfile = `UPDATE users SET first_name = $2, last_name = $3, updated_at = now() WHERE id = $1`

type UpdateUserProfileParams struct {
	ID        uuid.UUID
	FirstName sql.NullString
	LastName  sql.NullString
}

// UpdateUserProfile returns sql.ErrNoRows when no user has the id.
func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) error {
	res, err := q.db.ExecContext(ctx, updateUserProfile, arg.ID, arg.FirstName, arg.LastName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const listEmailsByRole = `SELECT email FROM users WHERE role = $1 ORDER BY created_at`

func (q *Queries) ListEmailsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listEmailsByRole, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		items = append(items, email)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
