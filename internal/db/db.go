package db

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var Conn *pgxpool.Pool

// Init connects to Postgres and makes sure the users schema is in place.
func Init(databaseURL string) {
	var err error
	Conn, err = pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}

	if err = Conn.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to ping database: %v\n", err)
	}

	log.Println("Connected to Postgres successfully")

	ensureUsersTable()
	ensureVerificationColumns()
}

// ensureUsersTable creates the users table if it doesn't exist
func ensureUsersTable() {
	ctx := context.Background()
	_, err := Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			hashed_password TEXT NOT NULL,
			is_hospital_staff BOOLEAN NOT NULL DEFAULT FALSE,
			is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			is_volunteer BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	`)
	if err != nil {
		log.Printf("failed to create users table: %v", err)
	}
}

// ensureVerificationColumns adds users.is_verified / users.is_volunteer on
// databases created before the confirmation flow existed
func ensureVerificationColumns() {
	ctx := context.Background()
	for _, col := range []string{"is_verified", "is_volunteer"} {
		var exists bool
		err := Conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_schema = 'public' AND table_name = 'users' AND column_name = $1
			)`, col).Scan(&exists)
		if err != nil {
			log.Printf("schema check failed: %v", err)
			return
		}
		if exists {
			continue
		}
		if _, err := Conn.Exec(ctx, `ALTER TABLE users ADD COLUMN IF NOT EXISTS `+col+` BOOLEAN NOT NULL DEFAULT FALSE`); err != nil {
			log.Printf("failed to add %s column: %v", col, err)
			return
		}
		log.Printf("users.%s column ensured", col)
	}
}

// EnsureFirstSuperuser creates the initial superuser account if the email is
// not taken yet. Idempotent; safe to run on every boot.
func EnsureFirstSuperuser(ctx context.Context, email, password string) {
	if email == "" || password == "" {
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("failed to hash first superuser password: %v", err)
		return
	}
	ct, err := Conn.Exec(ctx, `
		INSERT INTO users (id, email, hashed_password, is_superuser, is_active, is_verified)
		VALUES ($1, $2, $3, TRUE, TRUE, TRUE)
		ON CONFLICT (email) DO NOTHING`,
		uuid.New().String(), email, string(hashed))
	if err != nil {
		log.Printf("failed to create first superuser: %v", err)
		return
	}
	if ct.RowsAffected() > 0 {
		log.Printf("first superuser %s created", email)
	}
}
