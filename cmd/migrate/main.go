// migrate applies the embedded schema (users, refresh_sessions, audit_logs).
//
//	go run ./cmd/migrate -direction up|down|version
//	go run ./cmd/migrate -steps -1
package main

import (
	"flag"
	"fmt"
	"log"

	"propertyhub/backend/internal/config"
	"propertyhub/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "up, down, or version to print the applied version")
	steps := flag.Int("steps", 0, "Apply n migrations (negative rolls back); overrides -direction")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	switch {
	case *steps != 0:
		err = migrate.Steps(cfg.DatabaseURL, *steps)
	case *direction == "version":
		v, dirty, verr := migrate.Version(cfg.DatabaseURL)
		if verr != nil {
			log.Fatalf("migrate: %v", verr)
		}
		fmt.Printf("schema version %d (dirty: %t)\n", v, dirty)
		return
	default:
		err = migrate.Run(cfg.DatabaseURL, *direction)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	v, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("schema at version %d (dirty: %t)", v, dirty)
}
