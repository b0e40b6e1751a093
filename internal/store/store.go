package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/Alansi775/yshop-sync/internal/config"
)

// Store wraps the pooled marketplace database connection.
// Connections are acquired per query and released immediately; nothing
// holds one across a poll tick.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the connection pool. It does not touch the network;
// call Ping to verify the database is actually reachable.
func Open(cfg *config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing database handle. Used by tests to run
// against an in-memory database.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping verifies the database answers queries. The server must not start
// serving if this fails at boot.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
