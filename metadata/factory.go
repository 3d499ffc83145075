package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// StoreFactory creates metadata stores from location URIs.
type StoreFactory struct {
	log *slog.Logger
}

func NewStoreFactory(log *slog.Logger) *StoreFactory {
	return &StoreFactory{log: log}
}

// MetadataStoreFor creates a metadata store from a location URI.
//
// Supported schemes:
//   - postgres://, postgresql:// - PostgreSQL, the URI is passed to pgx unchanged
//   - dynamodb://table?region=...&endpoint=... - DynamoDB table
//   - bolt:///path/to/file.db - bbolt file, single process only
//   - mem://name - process memory, for development
//
// ctx bounds the connection setup only.
func (f *StoreFactory) MetadataStoreFor(ctx context.Context, location interfaces.StorageBackendLocation) (interfaces.MetadataStore, error) {
	u, err := url.Parse(location.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		f.log.Debug("Creating PostgreSQL metadata store", slog.String("uri", u.Redacted()))
		return OpenPostgres(ctx, DefaultPostgresConfig(location.Raw), f.log)
	case "dynamodb":
		f.log.Debug("Creating DynamoDB metadata store", slog.String("uri", u.Redacted()))
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing table name in DynamoDB URI", interfaces.ErrInvalidLocationURI)
		}
		query := u.Query()
		return OpenDynamoDB(ctx, u.Host, query.Get("region"), query.Get("endpoint"), f.log)
	case "bolt":
		f.log.Debug("Creating bbolt metadata store", slog.String("uri", u.Redacted()))
		path := u.Path
		if u.Host != "" {
			path = u.Host + "/" + strings.TrimPrefix(path, "/")
		}
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in bolt URI", interfaces.ErrInvalidLocationURI)
		}
		return OpenBolt(path, f.log)
	case "mem":
		return NewMemoryStore(u.Host, f.log), nil
	default:
		return nil, fmt.Errorf("%w: unsupported metadata store scheme: %s", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}
