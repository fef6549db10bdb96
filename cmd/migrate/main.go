package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"viralfaces/internal/infra"
	"viralfaces/internal/sqlinline"
)

func main() {
	_ = godotenv.Load()

	var dbURLFlag string
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (fallbacks to DATABASE_URL)")
	flag.Parse()

	dbURL := strings.TrimSpace(dbURLFlag)
	if dbURL == "" {
		dbURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	for _, stmt := range []string{sqlinline.QCreateResultsTable, sqlinline.QCreateResultsUserIndex} {
		if _, err := runner.Exec(ctx, stmt); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			pool.Close()
			os.Exit(1)
		}
	}
	logger.Info().Msg("results table ready")
}
