package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/flotilla/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteTracker
// =============================================================================

// SQLiteTracker implements Tracker using SQLite.
type SQLiteTracker struct {
	db *sqlx.DB
}

// NewSQLiteTracker opens the state database and runs migrations.
func NewSQLiteTracker(dsn string) (*SQLiteTracker, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteTracker", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteTracker", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteTracker", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteTracker{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteTracker) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

// recordRow represents a deployment record row in the database.
type recordRow struct {
	Service        string  `db:"service"`
	Phase          string  `db:"phase"`
	DescriptorHash string  `db:"descriptor_hash"`
	Handle         string  `db:"handle"`
	ResolvedConfig *string `db:"resolved_config"`
	Outputs        *string `db:"outputs"`
	Attempts       int     `db:"attempts"`
	LastError      string  `db:"last_error"`
	CreatedAt      string  `db:"created_at"`
	UpdatedAt      string  `db:"updated_at"`
}

func recordToRow(rec *domain.Record) (*recordRow, error) {
	row := &recordRow{
		Service:        rec.Service,
		Phase:          string(rec.Phase),
		DescriptorHash: rec.DescriptorHash,
		Handle:         rec.Handle,
		Attempts:       rec.Attempts,
		LastError:      rec.LastError,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if rec.ResolvedConfig != nil {
		data, err := json.Marshal(rec.ResolvedConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: resolved config: %v", ErrInvalidData, err)
		}
		s := string(data)
		row.ResolvedConfig = &s
	}
	if rec.Outputs != nil {
		data, err := json.Marshal(rec.Outputs)
		if err != nil {
			return nil, fmt.Errorf("%w: outputs: %v", ErrInvalidData, err)
		}
		s := string(data)
		row.Outputs = &s
	}

	return row, nil
}

func rowToRecord(row *recordRow) (*domain.Record, error) {
	rec := &domain.Record{
		Service:        row.Service,
		Phase:          domain.Phase(row.Phase),
		DescriptorHash: row.DescriptorHash,
		Handle:         row.Handle,
		Attempts:       row.Attempts,
		LastError:      row.LastError,
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrInvalidData, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrInvalidData, err)
	}

	if row.ResolvedConfig != nil {
		if err := json.Unmarshal([]byte(*row.ResolvedConfig), &rec.ResolvedConfig); err != nil {
			return nil, fmt.Errorf("%w: resolved config: %v", ErrInvalidData, err)
		}
	}
	if row.Outputs != nil {
		if err := json.Unmarshal([]byte(*row.Outputs), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("%w: outputs: %v", ErrInvalidData, err)
		}
	}

	return rec, nil
}

// =============================================================================
// Tracker Implementation
// =============================================================================

func (s *SQLiteTracker) Get(ctx context.Context, service string) (*domain.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM deployment_records WHERE service = ?`, service)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("Get", service, "no record for service", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("Get", service, err.Error(), err)
	}
	return rowToRecord(&row)
}

func (s *SQLiteTracker) Put(ctx context.Context, record *domain.Record) error {
	row, err := recordToRow(record)
	if err != nil {
		return NewStoreError("Put", record.Service, err.Error(), ErrInvalidData)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO deployment_records (
			service, phase, descriptor_hash, handle,
			resolved_config, outputs, attempts, last_error,
			created_at, updated_at
		) VALUES (
			:service, :phase, :descriptor_hash, :handle,
			:resolved_config, :outputs, :attempts, :last_error,
			:created_at, :updated_at
		)
		ON CONFLICT(service) DO UPDATE SET
			phase = excluded.phase,
			descriptor_hash = excluded.descriptor_hash,
			handle = excluded.handle,
			resolved_config = excluded.resolved_config,
			outputs = excluded.outputs,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		row)
	if err != nil {
		return NewStoreError("Put", record.Service, err.Error(), err)
	}
	return nil
}

func (s *SQLiteTracker) List(ctx context.Context) ([]domain.Record, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM deployment_records ORDER BY service`); err != nil {
		return nil, NewStoreError("List", "", err.Error(), err)
	}

	records := make([]domain.Record, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, NewStoreError("List", rows[i].Service, err.Error(), ErrInvalidData)
		}
		records = append(records, *rec)
	}
	return records, nil
}
