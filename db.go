package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/hobbyme/hobbyme/migrations"
)

var db *sql.DB

// initDB applies pending migrations, then opens the shared pool.
func initDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	version, err := migrations.Up(databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database schema ready", "version", version)

	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Info("database connection established")
	return conn, nil
}
