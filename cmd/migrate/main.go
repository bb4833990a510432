package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pennybid/bid-engine/internal/config"
	"github.com/pennybid/bid-engine/internal/store"
)

func main() {
	command := flag.String("command", "up", "migration command (up, down, status, reset)")
	dsn := flag.String("dsn", "", "database URL (defaults to DATABASE_URL)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	url := *dsn
	if url == "" {
		cfg, err := config.Load()
		if err != nil {
			slog.Error("config load failed", "err", err)
			os.Exit(1)
		}
		url = cfg.DatabaseURL
	}
	if url == "" {
		slog.Error("no database configured: set DATABASE_URL or -dsn")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(db, *command); err != nil {
		slog.Error("migration failed", "command", *command, "err", err)
		db.Close()
		os.Exit(1)
	}
	fmt.Printf("migrate %s: done\n", *command)
}
