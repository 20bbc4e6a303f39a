package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateEmail is returned by Create and Update when the email column's
// uniqueness constraint rejects the row. The handlers check for duplicates
// up front, but concurrent registrations can still race to the constraint.
var ErrDuplicateEmail = errors.New("email already registered")

type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, skip, limit int) ([]User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Remove(ctx context.Context, id string) error
}

type PgxStore struct{ db *pgxpool.Pool }

func NewPgxStore(db *pgxpool.Pool) *PgxStore { return &PgxStore{db: db} }

const userColumns = `id, email, full_name, hashed_password, is_hospital_staff,
	is_superuser, is_active, is_verified, is_volunteer, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.HashedPassword, &u.IsHospitalStaff,
		&u.IsSuperuser, &u.IsActive, &u.IsVerified, &u.IsVolunteer, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *PgxStore) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PgxStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *PgxStore) List(ctx context.Context, skip, limit int) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id OFFSET $1 LIMIT $2`,
		skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.FullName, &u.HashedPassword, &u.IsHospitalStaff,
			&u.IsSuperuser, &u.IsActive, &u.IsVerified, &u.IsVolunteer, &u.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create inserts the user and fills in ID and CreatedAt. A caller-provided ID
// is kept as-is so tests and bootstrap code can pin identifiers.
func (s *PgxStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, hashed_password, is_hospital_staff,
			is_superuser, is_active, is_verified, is_volunteer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		u.ID, u.Email, u.FullName, u.HashedPassword, u.IsHospitalStaff,
		u.IsSuperuser, u.IsActive, u.IsVerified, u.IsVolunteer,
	).Scan(&u.CreatedAt)
	return mapUniqueViolation(err)
}

func (s *PgxStore) Update(ctx context.Context, u *User) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE users
		SET email = $1, full_name = $2, hashed_password = $3, is_hospital_staff = $4,
			is_superuser = $5, is_active = $6, is_verified = $7, is_volunteer = $8
		WHERE id = $9`,
		u.Email, u.FullName, u.HashedPassword, u.IsHospitalStaff,
		u.IsSuperuser, u.IsActive, u.IsVerified, u.IsVolunteer, u.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PgxStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}
