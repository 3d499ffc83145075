package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ruteri/tf-state-backend/interfaces"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tfstate_locks (
	project    TEXT NOT NULL,
	name       TEXT NOT NULL,
	lock_id    TEXT NOT NULL,
	lock_info  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project, name)
);

CREATE TABLE IF NOT EXISTS tfstate_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// PostgresConfig holds the connection settings of a PostgresStore.
type PostgresConfig struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns the pool settings used when the URI does not override them.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{
		URL:             url,
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("database URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("max open connections must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections must be between 0 and max open connections")
	}
	return nil
}

// PostgresStore keeps lock records and configuration in PostgreSQL.
// Lock exclusivity comes from the (project, name) primary key.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPostgres connects, pings and creates the schema if needed.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, log *slog.Logger) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := NewPostgresStore(db, log)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open database handle. The schema must exist.
func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Migrate creates the lock and config tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLock(ctx context.Context, key interfaces.LockKey) (*interfaces.LockInfo, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT lock_info FROM tfstate_locks WHERE project = $1 AND name = $2`,
		key.Project, key.Name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lock: %w", err)
	}
	return interfaces.UnmarshalLockInfo(raw)
}

func (s *PostgresStore) InsertLockIfAbsent(ctx context.Context, key interfaces.LockKey, info *interfaces.LockInfo) (*interfaces.LockInfo, error) {
	for attempt := 0; attempt < insertAttempts; attempt++ {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tfstate_locks (project, name, lock_id, lock_info) VALUES ($1, $2, $3, $4)`,
			key.Project, key.Name, info.ID, string(info.Marshal()),
		)
		if err == nil {
			s.log.Debug("Inserted lock record",
				slog.String("key", key.String()),
				slog.String("id", info.ID))
			return nil, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to insert lock: %w", err)
		}

		existing, err := s.GetLock(ctx, key)
		if errors.Is(err, interfaces.ErrNotFound) {
			// Released between our insert and the read; try again.
			continue
		}
		if err != nil {
			return nil, err
		}
		return existing, nil
	}
	return nil, fmt.Errorf("failed to insert lock for %s: record kept changing", key)
}

func (s *PostgresStore) DeleteLock(ctx context.Context, key interfaces.LockKey, expectedID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tfstate_locks WHERE project = $1 AND name = $2 AND ($3::text = '' OR lock_id = $3::text)`,
		key.Project, key.Name, expectedID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetMaxBackups(ctx context.Context) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tfstate_config WHERE key = $1`, configKeyMaxBackups,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.DefaultMaxBackups, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query config: %w", err)
	}
	return parseMaxBackups(raw)
}

func (s *PostgresStore) SetMaxBackups(ctx context.Context, n int) error {
	if err := validateMaxBackups(n); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tfstate_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		configKeyMaxBackups, strconv.Itoa(n),
	)
	if err != nil {
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

func (s *PostgresStore) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn("PostgreSQL unavailable", "err", err)
		return false
	}
	return true
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
