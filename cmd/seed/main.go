// seed inserts development users for local testing, one per role.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"propertyhub/backend/internal/config"
	"propertyhub/backend/internal/db"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/user/domain"
	userrepo "propertyhub/backend/internal/user/repository"
)

var devUsers = []struct {
	email string
	role  domain.Role
}{
	{"admin@example.com", domain.RoleAdmin},
	{"manager@example.com", domain.RoleManager},
	{"tenant@example.com", domain.RoleTenant},
}

func main() {
	password := flag.String("password", "password123", "Password for every seeded user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(*password))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	for _, u := range devUsers {
		existing, err := users.GetByEmail(ctx, u.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", u.email, err)
		}
		if existing != nil {
			log.Printf("%s already exists. Skipping.", u.email)
			continue
		}
		now := time.Now().UTC()
		if err := users.Create(ctx, &domain.User{
			ID:           uuid.New().String(),
			Email:        u.email,
			PasswordHash: passwordHash,
			Role:         u.role,
			Status:       domain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			log.Fatalf("create %s: %v", u.email, err)
		}
		log.Printf("created %s (%s)", u.email, u.role)
	}
}
