package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"blindbid.org/internal/migrate"
	"blindbid.org/internal/obs"
	"blindbid.org/ops/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("BLINDBID_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall deadline")
		logLevel       = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log, err := obs.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BLINDBID_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var mgr *migrate.Manager
	if *migrationsPath != "" || *seedsPath != "" {
		mgr = migrate.NewDirManager(db, orDefault(*migrationsPath, "ops/migrations/sql"), orDefault(*seedsPath, "ops/migrations/seeds"))
	} else {
		mgr = migrate.NewManager(db, migrations.SQL(), migrations.Seeds())
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", cmd))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
