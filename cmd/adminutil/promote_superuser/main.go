package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/helpably/volunteerhub/internal/config"
	"github.com/helpably/volunteerhub/internal/db"
)

func main() {
	email := flag.String("email", "", "Email of the user to promote to superuser")
	demote := flag.Bool("demote", false, "Revoke superuser instead of granting it")
	flag.Parse()

	if *email == "" {
		log.Fatalf("usage: go run cmd/adminutil/promote_superuser/main.go -email user@example.com [-demote]")
	}

	_ = godotenv.Load()
	cfg := config.Load()
	db.Init(cfg.DatabaseURL)

	ct, err := db.Conn.Exec(context.Background(),
		`UPDATE users SET is_superuser = $1 WHERE email = $2`, !*demote, *email)
	if err != nil {
		log.Fatalf("failed to update superuser flag: %v", err)
	}
	if ct.RowsAffected() == 0 {
		log.Fatalf("no user found with email: %s", *email)
	}

	if *demote {
		fmt.Printf("User %s is no longer a superuser.\n", *email)
		return
	}
	fmt.Printf("User %s promoted to superuser.\n", *email)
}
