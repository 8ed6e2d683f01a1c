package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"po-ledger/internal/config"
	"po-ledger/internal/db"
	"po-ledger/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const advisoryLockKey = 7462839

type migration struct {
	Version  string
	Filename string
	Checksum string
	SQL      string
}

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_name.sql files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Fatalf("[CONFIG] %v", err)
	}
	log := logging.New(cfg.LogLevel, "text")

	ctx := context.Background()
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := db.NewPool(connCtx, cfg.DatabaseURL, 2, 0)
	cancel()
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()

	if err := migrate(ctx, pool, *dir, log); err != nil {
		pool.Close()
		log.Fatalf("%v", err)
	}
	log.Info("[DONE] all migrations processed")
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dir string, log logrus.FieldLogger) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("[LOCK] acquire connection: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked); err != nil {
		return fmt.Errorf("[LOCK] query advisory lock: %w", err)
	}
	if !locked {
		return errors.New("[LOCK] another migrator is currently running")
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockKey)

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := discoverMigrations(dir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if err := apply(ctx, conn.Conn(), m, log); err != nil {
			return err
		}
	}
	return nil
}

// discoverMigrations reads every NNN_name.sql file in dir, sorted by name.
// Duplicate versions are rejected.
func discoverMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("[DISCOVER] read %s: %w", dir, err)
	}

	var out []migration
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, err := extractVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("[DISCOVER] duplicate version %s: %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("[DISCOVER] read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			Version:  version,
			Filename: e.Name(),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func extractVersion(filename string) (string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("[DISCOVER] invalid migration filename %s, expected NNN_description.sql", filename)
	}
	return parts[0], nil
}

// apply runs m in its own transaction unless it is already recorded with
// the same checksum. A changed checksum is an error.
func apply(ctx context.Context, conn *pgx.Conn, m migration, log logrus.FieldLogger) error {
	var existing string
	err := conn.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.Version).Scan(&existing)
	switch {
	case err == nil:
		if existing != m.Checksum {
			return fmt.Errorf("[ERROR] checksum mismatch for %s: recorded %s, file %s", m.Filename, existing, m.Checksum)
		}
		log.Infof("[SKIP] %s", m.Filename)
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("[ERROR] query schema_migrations for %s: %w", m.Filename, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("[ERROR] begin %s: %w", m.Filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("[ERROR] execute %s: %w", m.Filename, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.Version, m.Filename, m.Checksum); err != nil {
		return fmt.Errorf("[ERROR] record %s: %w", m.Filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("[ERROR] commit %s: %w", m.Filename, err)
	}
	log.Infof("[APPLY] %s", m.Filename)
	return nil
}
