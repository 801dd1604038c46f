package shared

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/consolidation/internal/platform/db"
)

// IdempotencyModuleSync scopes keys of bulk sync applies.
const IdempotencyModuleSync = "consol_sync"

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// IdempotencyStore reserves request keys per module in idempotency_keys.
type IdempotencyStore struct {
	db execer
}

// NewIdempotencyStore constructs the store on a pool or transaction.
func NewIdempotencyStore(db execer) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Reserve records key for module, failing with ErrIdempotencyConflict when it
// was reserved before.
func (s *IdempotencyStore) Reserve(ctx context.Context, module, key string) error {
	module, key, err := s.args(module, key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, NOW())`, module, key)
	if db.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

// Release drops a reservation so a failed request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	module, key, err := s.args(module, key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE module = $1 AND key = $2`, module, key)
	return err
}

func (s *IdempotencyStore) args(module, key string) (string, string, error) {
	if s == nil || s.db == nil {
		return "", "", errors.New("idempotency store not initialised")
	}
	module, key = strings.TrimSpace(module), strings.TrimSpace(key)
	switch {
	case module == "":
		return "", "", errors.New("idempotency module required")
	case key == "":
		return "", "", errors.New("idempotency key required")
	}
	return module, key, nil
}
