package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"vendra.io/internal/migrate"
	"vendra.io/internal/rbac"
	"vendra.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("VENDRA_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
		authSecret     = flag.String("secret", os.Getenv("VENDRA_AUTH_SECRET"), "Auth secret (only needed by seed)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or VENDRA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), *migrationsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			if len(history) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "seed":
		// Seeding goes through the RBAC service so the permission catalog
		// and baseline roles match what the API enforces.
		secret := *authSecret
		if secret == "" {
			secret = "migrate-seed-only"
		}
		var svc *rbac.Service
		svc, err = rbac.NewService(store, rbac.WithSecret(secret))
		if err == nil {
			err = svc.Seed(ctx)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
	log.Printf("%s: ok", flag.Arg(0))
}
