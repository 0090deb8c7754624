package pg

import (
	"context"
	"database/sql"
	"errors"

	"blindbid.org/internal/chain"
)

var _ chain.HeightStore = (*Store)(nil)

// LoadHeight returns the checkpointed block height, or 0 before the first
// checkpoint.
func (s *Store) LoadHeight(ctx context.Context) (chain.Height, error) {
	var h int64
	err := s.db.QueryRowContext(ctx, `select height from chain_state where id = true`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if h < 0 {
		return 0, ErrHeightRange
	}
	return chain.Height(h), nil
}

// SaveHeight checkpoints h. The stored height only grows.
func (s *Store) SaveHeight(ctx context.Context, h chain.Height) error {
	height, err := heightParam(h)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into chain_state(id, height, updated_at)
		values (true, $1, now())
		on conflict (id) do update
		set height = greatest(chain_state.height, excluded.height), updated_at = excluded.updated_at
	`, height)
	return err
}
