// Package store is the bulk loader: it owns the Postgres schema and
// provides two write paths, a one-shot backfill COPY mode and a
// steady-state per-page upsert mode. Pool setup, runtime params, and the
// exec-whole-schema-file migration helper are grounded on
// internal/repository/repo_core.go; the COPY and sanitize idioms are
// grounded on internal/repository/postgres_ingest.go's SaveBatch.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredMigrations is the exact, ordered set of kysely_migration names
// this schema version expects. A mismatch is treated as fatal: an operator
// running against an unexpected schema should be stopped before it can
// write inconsistent data, not silently proceed.
var requiredMigrations = []string{
	"_20221020T204908820Z",
	"_20230223T215019669Z",
	"_20230406T174552885Z",
	"_20231128T203323431Z",
}

// Store wraps a pgxpool.Pool with the mirror's schema operations.
type Store struct {
	db *pgxpool.Pool
}

// Open parses dbURL, applies the same pool-tuning env vars as the teacher
// (DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS) plus per-connection timeouts, and
// connects.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = getEnvDefault("DB_STATEMENT_TIMEOUT", "0") // bulk loads can run long
	}
	if _, ok := config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = getEnvDefault("DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Store{db: pool}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// Migrate executes a schema file verbatim, matching the teacher's
// Repository.Migrate.
func (s *Store) Migrate(ctx context.Context, schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	if _, err := s.db.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// CheckMigrations refuses to proceed unless kysely_migration contains
// exactly the expected names.
func (s *Store) CheckMigrations(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `SELECT name FROM kysely_migration ORDER BY name`)
	if err != nil {
		return fmt.Errorf("query kysely_migration: %w", err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan migration name: %w", err)
		}
		got = append(got, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	want := append([]string(nil), requiredMigrations...)
	if !equalSorted(got, want) {
		return fmt.Errorf("schema migration mismatch: expected %v, got %v", want, got)
	}
	return nil
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LatestCreatedAt returns the newest createdAt already stored, generalized
// from the upstream reference's get_latest query. ok is false if the table
// is empty (a fresh mirror, which should run a full backfill).
func (s *Store) LatestCreatedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	err = s.db.QueryRow(ctx, `SELECT "createdAt" FROM operations ORDER BY "createdAt" DESC LIMIT 1`).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest createdAt: %w", err)
	}
	return t, true, nil
}

// sanitizeForPG strips null bytes and invalid UTF-8, matching the
// teacher's sanitizeForPG.
func sanitizeForPG(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// sanitizeJSONB validates and sanitizes a raw JSON payload for JSONB
// insertion, returning nil (SQL NULL) if the payload is empty or not valid
// JSON after sanitization.
func sanitizeJSONB(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	s := sanitizeForPG(string(raw))
	if !json.Valid([]byte(s)) {
		return nil
	}
	return []byte(s)
}
