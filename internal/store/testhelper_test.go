package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"voice-bridge/internal/observability"

	"github.com/jmoiron/sqlx"
)

// TestDB wraps a migrated test database
type TestDB struct {
	db    *sqlx.DB
	Store Store
}

// SetupTestDB connects to the PostgreSQL instance named by TEST_DB_HOST and
// applies the migrations. The test is skipped when TEST_DB_HOST is not set.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbHost := os.Getenv("TEST_DB_HOST")
	if dbHost == "" {
		t.Skip("TEST_DB_HOST not set, skipping database test")
	}
	dbPort := getEnvDefault("TEST_DB_PORT", "5432")
	dbUser := getEnvDefault("TEST_DB_USER", "bridge_user")
	dbPass := getEnvDefault("TEST_DB_PASSWORD", "bridge_password")
	dbName := getEnvDefault("TEST_DB_NAME", "voiceagent_test")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPass, dbHost, dbPort, dbName)

	db, err := sqlx.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := runMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &TestDB{
		db:    db,
		Store: Store{db: db, logger: observability.NewNopLogger()},
	}
}

// getTranscription reads back the row saved for callSid
func (tdb *TestDB) getTranscription(ctx context.Context, callSid string) (Transcription, error) {
	var t Transcription
	var transcript []byte
	row := tdb.db.QueryRowxContext(ctx, `
SELECT id, call_sid, stream_sid, output_path, transcript, created_at
FROM transcriptions
WHERE call_sid = $1`, callSid)
	if err := row.Scan(&t.ID, &t.CallSid, &t.StreamSid, &t.OutputPath, &transcript, &t.CreatedAt); err != nil {
		return Transcription{}, err
	}
	t.Transcript = transcript
	return t, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// runMigrations applies all migration files to the database
func runMigrations(db *sqlx.DB) error {
	migrationsDir := "../../migrations"
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found")
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "V*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migration files found in %s", migrationsDir)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// Truncate clears data from the given tables, or all tables when none are given
func (tdb *TestDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()

	if len(tables) == 0 {
		tables = []string{"transcriptions"}
	}
	for _, table := range tables {
		_, err := tdb.db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table))
		if err != nil && !strings.Contains(err.Error(), "does not exist") {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
}
