package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to ":memory:" opens a distinct database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
	}
	if !isMemory(s.cfg.Path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	pragmas = append(pragmas, "_txlock=immediate")

	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return s.cfg.Path + sep + strings.Join(pragmas, "&")
}

// Init opens the database connection and configures the pool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record operations

// GetRecord returns a single record or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, namespace, key string) (*Record, error) {
	query := `
		SELECT namespace, key, value, created_at, updated_at
		FROM records
		WHERE namespace = ? AND key = ?
	`

	rec := &Record{}
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(
		&rec.Namespace,
		&rec.Key,
		&rec.Value,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s/%s: %w", namespace, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

// ListRecords returns every record in a namespace ordered by creation time.
func (s *SQLiteStore) ListRecords(ctx context.Context, namespace string) ([]*Record, error) {
	query := `
		SELECT namespace, key, value, created_at, updated_at
		FROM records
		WHERE namespace = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.Namespace, &rec.Key, &rec.Value, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// PutRecord upserts a single record.
func (s *SQLiteStore) PutRecord(ctx context.Context, namespace, key, value string) error {
	return s.Apply(ctx, NewBatch().Put(namespace, key, value))
}

// DeleteRecord removes a record, returning ErrNotFound if it does not exist.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, namespace, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("record %s/%s: %w", namespace, key, ErrNotFound)
	}

	return nil
}

// Apply executes every operation of the batch in a single transaction.
func (s *SQLiteStore) Apply(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, op := range batch.ops {
		switch op.kind {
		case opPut:
			if err := upsertRecord(ctx, tx, op.namespace, op.key, op.value, now); err != nil {
				return err
			}
		case opDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE namespace = ? AND key = ?`, op.namespace, op.key); err != nil {
				return fmt.Errorf("failed to delete record %s/%s: %w", op.namespace, op.key, err)
			}
		case opReplace:
			if err := replaceNamespace(ctx, tx, op.namespace, op.records, now); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, namespace, key, value string, now time.Time) error {
	query := `
		INSERT INTO records (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, namespace, key, value, now, now); err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", namespace, key, err)
	}
	return nil
}

func replaceNamespace(ctx context.Context, tx *sql.Tx, namespace string, records map[string]string, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM records WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}

	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan key: %w", err)
		}
		if _, keep := records[key]; !keep {
			stale = append(stale, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating namespace %s: %w", namespace, err)
	}
	rows.Close()

	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
			return fmt.Errorf("failed to delete record %s/%s: %w", namespace, key, err)
		}
	}

	for key, value := range records {
		if err := upsertRecord(ctx, tx, namespace, key, value, now); err != nil {
			return err
		}
	}
	return nil
}

// Sync run operations

// CreateSyncRun inserts a new sync run.
func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.Status == "" {
		run.Status = SyncStatusRunning
	}
	if run.Summary == "" {
		run.Summary = "{}"
	}

	query := `
		INSERT INTO sync_runs (id, project, provider, status, started_at, completed_at, error, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Project,
		run.Provider,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	return nil
}

// CompleteSyncRun marks a sync run as finished.
func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id string, status SyncStatus, errMsg *string, summary string) error {
	if summary == "" {
		summary = "{}"
	}

	query := `
		UPDATE sync_runs
		SET status = ?, completed_at = ?, error = ?, summary = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, s.now(), errMsg, summary, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("sync run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListSyncRuns lists the most recent sync runs of a provider. An empty
// provider lists runs of every provider in the project.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, project, provider string, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, project, provider, status, started_at, completed_at, error, summary
		FROM sync_runs
		WHERE project = ?
		  AND (? = '' OR provider = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, project, provider, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*SyncRun{}
	for rows.Next() {
		run := &SyncRun{}
		err := rows.Scan(
			&run.ID,
			&run.Project,
			&run.Provider,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Summary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// Audit operations

// CreateAuditEntry creates a new audit entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
