package pg

import (
	"context"
	"database/sql"
	"errors"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/registry"
)

func (s *Store) Get(ctx context.Context, name string) (registry.Record, error) {
	var (
		owner  string
		expiry int64
	)
	err := s.db.QueryRowContext(ctx, `
		select owner, expiry from registry_records where name=$1
	`, name).Scan(&owner, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, nil
	}
	if err != nil {
		return registry.Record{}, err
	}
	return registry.Record{Owner: parseIdentity(owner), Expiry: chain.Height(expiry)}, nil
}

func (s *Store) Put(ctx context.Context, name string, rec registry.Record) error {
	expiry, err := heightParam(rec.Expiry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into registry_records(name, owner, expiry, updated_at)
		values ($1,$2,$3,now())
		on conflict (name) do update
		set owner = excluded.owner, expiry = excluded.expiry, updated_at = excluded.updated_at
	`, name, identityParam(rec.Owner), expiry)
	return err
}

func (s *Store) NamesOwnedBy(ctx context.Context, owner chain.Identity) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select name from registry_records where owner=$1 order by name asc
	`, identityParam(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
