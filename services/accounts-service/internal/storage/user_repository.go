package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/serenitymassage/bookwell/libs/db"
)

var ErrEmailTaken = errors.New("email already registered")

type User struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	PasswordHash   string
	Role           string
	MembershipType string
	CreatedAt      time.Time
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash, role, membership_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.Phone, user.PasswordHash, user.Role, user.MembershipType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

const userColumns = `id::text, name, email, COALESCE(phone, ''), password_hash, role, membership_type, created_at`

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// UpdateProfile changes the fields a user may edit about themselves.
func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, phone string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET name = $2, phone = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`, id, name, phone)
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, id, passwordHash)
	return err
}

// SetMembership is the staff-side tier change. New tokens pick up the tier
// on the next login or refresh.
func (r *UserRepository) SetMembership(ctx context.Context, email, membershipType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET membership_type = $2, updated_at = now()
		WHERE lower(email) = lower($1)
	`, email, membershipType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.MembershipType, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
