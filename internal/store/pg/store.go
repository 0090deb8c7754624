// Package pg implements the registry store and the funds ledger on Postgres
// through the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/registry"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrSerializationFailed = "40001"
)

var (
	// ErrConflict reports a write that lost a race with a concurrent
	// transaction. Callers may retry.
	ErrConflict = errors.New("pg: concurrent write conflict")

	ErrHeightRange = errors.New("pg: height out of range")
)

type Store struct {
	db *sql.DB
}

var (
	_ ledger.Service = (*Store)(nil)
	_ registry.Store = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping is the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation, pgErrSerializationFailed:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", s, err)
	}
	return v, nil
}

func heightParam(h chain.Height) (int64, error) {
	if uint64(h) > math.MaxInt64 {
		return 0, ErrHeightRange
	}
	return int64(h), nil
}

func identityParam(id chain.Identity) string { return id.Hex() }

func parseIdentity(s string) chain.Identity {
	if s == "" {
		return chain.NoIdentity
	}
	return common.HexToAddress(s)
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
