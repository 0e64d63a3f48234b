package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/synth/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
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
		return nil, engine.NewConfigurationError("database path is required", nil)
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: is a separate database
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreatePass creates a new pass record
func (s *SQLiteStore) CreatePass(ctx context.Context, pass *Pass) error {
	query := `
		INSERT INTO passes (id, project, status, started_at, completed_at, nodes, mutations, violations, error, output_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		pass.ID,
		pass.Project,
		pass.Status,
		pass.StartedAt,
		pass.CompletedAt,
		pass.Nodes,
		pass.Mutations,
		pass.Violations,
		pass.Error,
		pass.OutputDigest,
	)
	if err != nil {
		return fmt.Errorf("failed to create pass: %w", err)
	}

	return nil
}

// CompletePass records the outcome of a pass
func (s *SQLiteStore) CompletePass(ctx context.Context, id string, summary PassSummary) error {
	query := `
		UPDATE passes
		SET status = ?, completed_at = ?, nodes = ?, mutations = ?, violations = ?, error = ?, output_digest = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		summary.Status,
		time.Now(),
		summary.Nodes,
		summary.Mutations,
		summary.Violations,
		summary.Error,
		summary.OutputDigest,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete pass: %w", err)
	}

	return expectRow(result, "pass", id)
}

const passColumns = `id, project, status, started_at, completed_at, nodes, mutations, violations, error, output_digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (*Pass, error) {
	pass := &Pass{}
	err := row.Scan(
		&pass.ID,
		&pass.Project,
		&pass.Status,
		&pass.StartedAt,
		&pass.CompletedAt,
		&pass.Nodes,
		&pass.Mutations,
		&pass.Violations,
		&pass.Error,
		&pass.OutputDigest,
	)
	return pass, err
}

// GetPass retrieves a pass by ID
func (s *SQLiteStore) GetPass(ctx context.Context, id string) (*Pass, error) {
	query := `SELECT ` + passColumns + ` FROM passes WHERE id = ?`

	pass, err := scanPass(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("pass", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	return pass, nil
}

// ListPasses lists passes, newest first
func (s *SQLiteStore) ListPasses(ctx context.Context, limit, offset int) ([]*Pass, error) {
	query := `SELECT ` + passColumns + ` FROM passes ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	passes := []*Pass{}
	for rows.Next() {
		pass, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		passes = append(passes, pass)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}

	return passes, nil
}

// DeletePass deletes a pass and its records
func (s *SQLiteStore) DeletePass(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM passes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pass: %w", err)
	}

	return expectRow(result, "pass", id)
}

// RecordMutations stores the mutations of a pass in one transaction. Seq is
// assigned from the slice order.
func (s *SQLiteStore) RecordMutations(ctx context.Context, passID string, mutations []Mutation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO mutations (pass_id, seq, visitor, node_path, role, rule, property, old_value, new_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare mutation insert: %w", err)
		}
		defer stmt.Close()

		for i, m := range mutations {
			if _, err := stmt.ExecContext(ctx,
				passID, i, m.Visitor, m.NodePath, m.Role, m.Rule, m.Property, m.OldValue, m.NewValue,
			); err != nil {
				return fmt.Errorf("failed to record mutation %s on %s: %w", m.Property, m.NodePath, err)
			}
		}
		return nil
	})
}

// ListMutations lists the mutations of a pass in application order
func (s *SQLiteStore) ListMutations(ctx context.Context, passID string) ([]*Mutation, error) {
	query := `
		SELECT id, pass_id, seq, visitor, node_path, role, rule, property,
			   COALESCE(old_value, ''), COALESCE(new_value, '')
		FROM mutations
		WHERE pass_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	mutations := []*Mutation{}
	for rows.Next() {
		m := &Mutation{}
		if err := rows.Scan(
			&m.ID,
			&m.PassID,
			&m.Seq,
			&m.Visitor,
			&m.NodePath,
			&m.Role,
			&m.Rule,
			&m.Property,
			&m.OldValue,
			&m.NewValue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		mutations = append(mutations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}

	return mutations, nil
}

// RecordLookups stores the lookup outcomes of a pass in one transaction
func (s *SQLiteStore) RecordLookups(ctx context.Context, passID string, lookups []Lookup) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO lookups (pass_id, name, kind, query_key, outcome, value, diagnostic, cached, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare lookup insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range lookups {
			if _, err := stmt.ExecContext(ctx,
				passID, l.Name, l.Kind, l.QueryKey, l.Outcome, l.Value, l.Diagnostic, l.Cached, l.DurationMS,
			); err != nil {
				return fmt.Errorf("failed to record lookup %s: %w", l.Name, err)
			}
		}
		return nil
	})
}

// ListLookups lists the lookups of a pass ordered by name
func (s *SQLiteStore) ListLookups(ctx context.Context, passID string) ([]*Lookup, error) {
	query := `
		SELECT id, pass_id, name, kind, query_key, outcome, value, diagnostic, cached, duration_ms
		FROM lookups
		WHERE pass_id = ?
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}
	defer rows.Close()

	lookups := []*Lookup{}
	for rows.Next() {
		l := &Lookup{}
		if err := rows.Scan(
			&l.ID,
			&l.PassID,
			&l.Name,
			&l.Kind,
			&l.QueryKey,
			&l.Outcome,
			&l.Value,
			&l.Diagnostic,
			&l.Cached,
			&l.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lookup: %w", err)
		}
		lookups = append(lookups, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lookups: %w", err)
	}

	return lookups, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

func notFound(kind, id string) error {
	return engine.NewNotFoundError(fmt.Sprintf("%s not found: %s", kind, id), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(id)
}
