// Package db provides the external result-persistence contract for the
// scanning core: a thin connection wrapper plus a repository for scan and
// port-result rows. It is a consumer of the scheduler's output, not part
// of the scan path itself.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/doublegate/prort-ip/internal/errors"
)

// sanitizeDBError converts raw database errors into sanitized errors that
// don't expose internal SQL details or credentials to callers. The
// original error is preserved in the Cause field for internal logging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
		case "23514": // check_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01": // admin_shutdown
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection lost")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database connection after ping failure")
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	log.Printf("Successfully connected to database at %s:%d/%s", config.Host, config.Port, config.Database)
	return &DB{DB: db}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Ping verifies the connection is still alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.DB.BeginTxx(ctx, nil)
}

// ResultRepository persists scans and their per-port results. It is the
// sole external collaborator the scheduler hands completed ScanResults to;
// nothing in the scan path reads back through it.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// CreateScan inserts a new scan row, assigning an ID if one isn't set.
func (r *ResultRepository) CreateScan(ctx context.Context, scan *Scan) error {
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.StartedAt.IsZero() {
		scan.StartedAt = time.Now()
	}

	query := `
		INSERT INTO scans (id, target_spec, port_spec, scan_kind, started_at)
		VALUES (:id, :target_spec, :port_spec, :scan_kind, :started_at)`

	if _, err := r.db.NamedExecContext(ctx, query, scan); err != nil {
		return sanitizeDBError("create scan", err)
	}
	return nil
}

// CompleteScan records the terminal counters for a scan once it finishes.
func (r *ResultRepository) CompleteScan(ctx context.Context, scan *Scan) error {
	query := `
		UPDATE scans
		SET completed_at = :completed_at, probes_sent = :probes_sent,
		    replies_received = :replies_received, packets_dropped = :packets_dropped,
		    avg_rtt_ms = :avg_rtt_ms, circuit_trips = :circuit_trips
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, scan); err != nil {
		return sanitizeDBError("complete scan", err)
	}
	return nil
}

// GetScan retrieves a scan by ID.
func (r *ResultRepository) GetScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	if err := r.db.GetContext(ctx, &scan, `SELECT * FROM scans WHERE id = $1`, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// InsertPortResults persists a batch of terminal port results for a scan
// in a single transaction, matching the worker pool's result-batching idiom.
func (r *ResultRepository) InsertPortResults(ctx context.Context, results []*PortResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return sanitizeDBError("begin insert port results", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO port_results
			(id, scan_id, host, port, protocol, state, reason, rtt_us,
			 service_name, service_product, service_version, banner, detected_at)
		VALUES
			(:id, :scan_id, :host, :port, :protocol, :state, :reason, :rtt_us,
			 :service_name, :service_product, :service_version, :banner, :detected_at)`

	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		if res.DetectedAt.IsZero() {
			res.DetectedAt = time.Now()
		}
		if _, err := tx.NamedExecContext(ctx, query, res); err != nil {
			return sanitizeDBError("insert port result", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit insert port results", err)
	}
	return nil
}

// GetPortResults retrieves every persisted port result for a scan.
func (r *ResultRepository) GetPortResults(ctx context.Context, scanID uuid.UUID) ([]*PortResult, error) {
	var results []*PortResult
	query := `SELECT * FROM port_results WHERE scan_id = $1 ORDER BY host, port`
	if err := r.db.SelectContext(ctx, &results, query, scanID); err != nil {
		return nil, sanitizeDBError("get port results", err)
	}
	return results, nil
}

// InsertOSGuesses persists ranked OS fingerprint matches for a scan's hosts.
func (r *ResultRepository) InsertOSGuesses(ctx context.Context, guesses []*HostOSGuess) error {
	if len(guesses) == 0 {
		return nil
	}

	query := `
		INSERT INTO host_os_guesses (id, scan_id, host, family, name, confidence, details, detected_at)
		VALUES (:id, :scan_id, :host, :family, :name, :confidence, :details, :detected_at)`

	for _, guess := range guesses {
		if guess.ID == uuid.Nil {
			guess.ID = uuid.New()
		}
		if guess.DetectedAt.IsZero() {
			guess.DetectedAt = time.Now()
		}
		if _, err := r.db.NamedExecContext(ctx, query, guess); err != nil {
			return sanitizeDBError("insert os guess", err)
		}
	}
	return nil
}
