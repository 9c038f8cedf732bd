package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	"github.com/noah-isme/uni-onboarding-api/pkg/database"
)

// seed_admin creates or updates an operator account. The API has no signup
// endpoint, so the first administrator has to be provisioned out of band.
func main() {
	var (
		email    string
		password string
		fullName string
		role     string
	)

	flag.StringVar(&email, "email", "", "account email address")
	flag.StringVar(&password, "password", "", "initial password (read from SEED_ADMIN_PASSWORD if empty)")
	flag.StringVar(&fullName, "name", "Administrator", "account display name")
	flag.StringVar(&role, "role", "ADMIN", "account role: ADMIN or OPERATOR")
	flag.Parse()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		log.Fatal("-email is required")
	}
	if password == "" {
		password = os.Getenv("SEED_ADMIN_PASSWORD")
	}
	if len(password) < 8 {
		log.Fatal("password must be at least 8 characters")
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != "ADMIN" && role != "OPERATOR" {
		log.Fatalf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const query = `
		INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    full_name     = EXCLUDED.full_name,
		    role          = EXCLUDED.role,
		    active        = TRUE,
		    updated_at    = EXCLUDED.updated_at`

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, query, uuid.NewString(), email, string(hash), fullName, role, now); err != nil {
		log.Fatalf("failed to upsert account: %v", err)
	}

	fmt.Printf("account %s (%s) is ready\n", email, role)
}
