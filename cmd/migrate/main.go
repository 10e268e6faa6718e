package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"afiliados.org/internal/migrate"
	"afiliados.org/internal/obs"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("AFILIADOS_PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Directory with *.up.sql/*.down.sql (default: embedded schema)")
		table   = flag.String("table", "", "Bookkeeping table (default schema_migrations)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()
	log := obs.NewLogger("afiliados-migrate", os.Getenv("AFILIADOS_LOG_LEVEL"), "text", os.Stderr)

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AFILIADOS_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	var opts []migrate.Option
	opts = append(opts, migrate.WithLogger(log), migrate.WithMigrationsTable(*table))
	mgr := migrate.NewManager(db, nil, opts...)
	if *dir != "" {
		mgr = migrate.NewManager(db, os.DirFS(*dir), opts...)
	}

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil && len(applied) == 0 {
			log.Info("schema up to date")
		}
	case "down":
		_, err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).WithField("command", flag.Arg(0)).Fatal("migrate failed")
	}
}
