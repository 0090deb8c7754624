package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/ids"
	"blindbid.org/internal/ledger"
)

func (s *Store) Deposit(ctx context.Context, to chain.Identity, amt *uint256.Int, idemKey string) (ledger.Transaction, error) {
	if amt == nil || amt.IsZero() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if chain.IsZero(to) {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if t, ok, err := replay(ctx, tx, idemKey); err != nil || ok {
		return t, err
	}
	if err := ensureAccount(ctx, tx, to); err != nil {
		return ledger.Transaction{}, err
	}
	bal, err := lockBalance(ctx, tx, to)
	if err != nil {
		return ledger.Transaction{}, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amt)
	if overflow {
		return ledger.Transaction{}, ledger.ErrBalanceOverflow
	}
	if err := setBalance(ctx, tx, to, sum); err != nil {
		return ledger.Transaction{}, err
	}
	t, err := record(ctx, tx, chain.NoIdentity, to, amt, idemKey)
	if err != nil {
		return ledger.Transaction{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, mapWriteError(err)
	}
	return t, nil
}

func (s *Store) GetAccount(ctx context.Context, id chain.Identity) (ledger.Account, error) {
	var bal string
	acc := ledger.Account{ID: id}
	err := s.db.QueryRowContext(ctx, `
		select created_at, balance::text from accounts where id=$1
	`, identityParam(id)).Scan(&acc.CreatedAt, &bal)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	if acc.Balance, err = parseAmount(bal); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

// GetBalance returns zero for identities that never held funds.
func (s *Store) GetBalance(ctx context.Context, id chain.Identity) (*uint256.Int, error) {
	acc, err := s.GetAccount(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (s *Store) Transfer(ctx context.Context, from, to chain.Identity, amt *uint256.Int, idemKey string) (ledger.Transaction, error) {
	if amt == nil || amt.IsZero() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if chain.IsZero(from) || chain.IsZero(to) {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if t, ok, err := replay(ctx, tx, idemKey); err != nil || ok {
		return t, err
	}
	if err := ensureAccount(ctx, tx, to); err != nil {
		return ledger.Transaction{}, err
	}

	// Lock in stable order to avoid deadlocks
	balances := make(map[chain.Identity]*uint256.Int, 2)
	for _, hex := range sorted(identityParam(from), identityParam(to)) {
		id := parseIdentity(hex)
		if _, done := balances[id]; done {
			continue
		}
		bal, err := lockBalance(ctx, tx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Transaction{}, ledger.ErrInsufficientFunds
		}
		if err != nil {
			return ledger.Transaction{}, err
		}
		balances[id] = bal
	}

	src := balances[from]
	if src.Lt(amt) {
		return ledger.Transaction{}, ledger.ErrInsufficientFunds
	}
	if from != to {
		credited, overflow := new(uint256.Int).AddOverflow(balances[to], amt)
		if overflow {
			return ledger.Transaction{}, ledger.ErrBalanceOverflow
		}
		if err := setBalance(ctx, tx, from, new(uint256.Int).Sub(src, amt)); err != nil {
			return ledger.Transaction{}, err
		}
		if err := setBalance(ctx, tx, to, credited); err != nil {
			return ledger.Transaction{}, err
		}
	}

	t, err := record(ctx, tx, from, to, amt, idemKey)
	if err != nil {
		return ledger.Transaction{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, mapWriteError(err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, coalesce(from_account,''), to_account, amount::text, sequence, coalesce(idempotency_key,'')
		from ledger_transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	var last uint64
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, t)
		last = t.Sequence
	}
	return res, last, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(row scanner) (ledger.Transaction, error) {
	var (
		t          ledger.Transaction
		from, to   string
		amount     string
		idempotent string
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &from, &to, &amount, &t.Sequence, &idempotent); err != nil {
		return ledger.Transaction{}, err
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.From = parseIdentity(from)
	t.To = parseIdentity(to)
	t.Amount = amt
	t.IdempotencyKey = idempotent
	return t, nil
}

// replay returns the transaction already recorded under idemKey.
func replay(ctx context.Context, tx *sql.Tx, idemKey string) (ledger.Transaction, bool, error) {
	if idemKey == "" {
		return ledger.Transaction{}, false, nil
	}
	t, err := scanTx(tx.QueryRowContext(ctx, `
		select id, created_at, coalesce(from_account,''), to_account, amount::text, sequence, coalesce(idempotency_key,'')
		from ledger_transactions where idempotency_key=$1
	`, idemKey))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

func ensureAccount(ctx context.Context, tx *sql.Tx, id chain.Identity) error {
	_, err := tx.ExecContext(ctx, `
		insert into accounts(id, created_at, balance) values ($1, now(), 0)
		on conflict (id) do nothing
	`, identityParam(id))
	return err
}

func lockBalance(ctx context.Context, tx *sql.Tx, id chain.Identity) (*uint256.Int, error) {
	var bal string
	err := tx.QueryRowContext(ctx, `
		select balance::text from accounts where id=$1 for update
	`, identityParam(id)).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(bal)
}

func setBalance(ctx context.Context, tx *sql.Tx, id chain.Identity, bal *uint256.Int) error {
	_, err := tx.ExecContext(ctx, `
		update accounts set balance = $2::numeric where id=$1
	`, identityParam(id), bal.Dec())
	return err
}

func record(ctx context.Context, tx *sql.Tx, from, to chain.Identity, amt *uint256.Int, idemKey string) (ledger.Transaction, error) {
	t := ledger.Transaction{
		ID:             ids.WithPrefix("tx"),
		From:           from,
		To:             to,
		Amount:         amt.Clone(),
		IdempotencyKey: idemKey,
	}
	fromParam := ""
	if !chain.IsZero(from) {
		fromParam = identityParam(from)
	}
	err := tx.QueryRowContext(ctx, `
		insert into ledger_transactions(id, from_account, to_account, amount, idempotency_key)
		values ($1, nullif($2,''), $3, $4::numeric, nullif($5,''))
		returning sequence, created_at
	`, t.ID, fromParam, identityParam(to), amt.Dec(), idemKey).Scan(&t.Sequence, &t.CreatedAt)
	return t, err
}
