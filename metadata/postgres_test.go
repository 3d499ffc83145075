package metadata

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, expected: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), expected: true},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}, expected: false},
		{name: "plain error", err: fmt.Errorf("boom"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isUniqueViolation(tt.err))
		})
	}
}

func TestPostgresConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultPostgresConfig("postgres://localhost/tfstate").Validate())

	cfg := DefaultPostgresConfig("")
	assert.Error(t, cfg.Validate())

	cfg = DefaultPostgresConfig("postgres://localhost/tfstate")
	cfg.MaxIdleConns = cfg.MaxOpenConns + 1
	assert.Error(t, cfg.Validate())
}

// TestPostgresStore runs against a real database when TFSTATE_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TFSTATE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TFSTATE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := OpenPostgres(ctx, DefaultPostgresConfig(url), discardLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx, `TRUNCATE tfstate_locks, tfstate_config`)
	require.NoError(t, err)

	testMetadataStore(t, store)
}
