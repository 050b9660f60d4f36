// Command migrate applies the schema and seed files under ops/migrations
// to the configured Postgres database. Seeds carry the builtin access
// rights, the builtin roles and the Master root department, so a fresh
// database is ready to serve after "migrate up && migrate seed".
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lernia.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("LERNIA_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "directory with schema migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "directory with seed statements")
		timeout        = flag.Duration("timeout", 30*time.Second, "overall deadline for the run")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no database configured: set -dsn or LERNIA_PG_DSN")
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal("usage: migrate [-dsn ...] up|down|seed|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		for _, line := range applied {
			fmt.Println(line)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, seed or status)", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
