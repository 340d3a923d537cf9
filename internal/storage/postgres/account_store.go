package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
//
// Update runs in one transaction. Every touched address is first locked with a
// transaction-scoped advisory lock in sorted order, so accounts that do not exist
// yet are serialized too; existing rows are then read with SELECT ... FOR UPDATE.
type AccountStore struct {
	pool *Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

const accountColumns = `address, lamports, owner, data, executable, rent_epoch`

// Get retrieves an account. Returns ErrNotFound if it does not exist.
func (s *AccountStore) Get(ctx context.Context, address solana.Pubkey) (*solana.AccountInfo, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`

	_, info, err := scanAccount(s.pool.QueryRow(ctx, query, address[:]))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return info, nil
}

// GetMany retrieves several accounts in order; missing accounts are nil.
func (s *AccountStore) GetMany(ctx context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = ANY($1)`

	rows, err := s.pool.Query(ctx, query, addressParams(addresses))
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	defer rows.Close()

	found, err := scanAccounts(rows)
	if err != nil {
		return nil, err
	}

	out := make([]*solana.AccountInfo, len(addresses))
	for i, a := range addresses {
		out[i] = found[a]
	}
	return out, nil
}

// Put creates or replaces an account.
func (s *AccountStore) Put(ctx context.Context, address solana.Pubkey, info *solana.AccountInfo) error {
	if info == nil {
		return storage.ErrInvalidInput
	}
	if err := upsertAccount(ctx, s.pool, address, info); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// Update locks the addresses in sorted order and applies fn in one transaction.
func (s *AccountStore) Update(ctx context.Context, addresses []solana.Pubkey, fn func(loaded storage.AccountWrites) (storage.AccountWrites, error)) error {
	keys := sortedUnique(addresses)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended(encode($1::bytea, 'hex'), 0))`, k[:]); err != nil {
			return fmt.Errorf("lock account %s: %w", k, err)
		}
	}

	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE address = ANY($1) ORDER BY address FOR UPDATE`,
		addressParams(keys))
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	loaded, err := scanAccounts(rows)
	rows.Close()
	if err != nil {
		return err
	}

	writes, err := fn(storage.AccountWrites(loaded))
	if err != nil {
		return err
	}

	locked := make(map[solana.Pubkey]struct{}, len(keys))
	for _, k := range keys {
		locked[k] = struct{}{}
	}
	for addr, info := range writes {
		if _, ok := locked[addr]; !ok || info == nil {
			return storage.ErrInvalidInput
		}
		if err := upsertAccount(ctx, tx, addr, info); err != nil {
			return fmt.Errorf("write account %s: %w", addr, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertAccount(ctx context.Context, db execer, address solana.Pubkey, info *solana.AccountInfo) error {
	_, err := db.Exec(ctx, `
		INSERT INTO accounts (address, lamports, owner, data, executable, rent_epoch, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (address) DO UPDATE SET
			lamports = EXCLUDED.lamports,
			owner = EXCLUDED.owner,
			data = EXCLUDED.data,
			executable = EXCLUDED.executable,
			rent_epoch = EXCLUDED.rent_epoch,
			updated_at = now()
	`,
		address[:],
		int64(info.Lamports),
		info.Owner[:],
		dataParam(info.Data),
		info.Executable,
		int64(info.RentEpoch),
	)
	return err
}

func dataParam(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}

func addressParams(addresses []solana.Pubkey) [][]byte {
	out := make([][]byte, len(addresses))
	for i := range addresses {
		out[i] = addresses[i][:]
	}
	return out
}

func scanAccount(row pgx.Row) (solana.Pubkey, *solana.AccountInfo, error) {
	var address, owner []byte
	var lamports, rentEpoch int64
	info := &solana.AccountInfo{}

	if err := row.Scan(&address, &lamports, &owner, &info.Data, &info.Executable, &rentEpoch); err != nil {
		return solana.Pubkey{}, nil, err
	}
	info.Lamports = uint64(lamports)
	info.RentEpoch = uint64(rentEpoch)
	info.Owner = solana.PubkeyFromBytes(owner)
	return solana.PubkeyFromBytes(address), info, nil
}

// scanAccounts scans multiple rows keyed by address.
func scanAccounts(rows pgx.Rows) (map[solana.Pubkey]*solana.AccountInfo, error) {
	out := make(map[solana.Pubkey]*solana.AccountInfo)
	for rows.Next() {
		addr, info, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		out[addr] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return out, nil
}

func sortedUnique(addresses []solana.Pubkey) []solana.Pubkey {
	seen := make(map[solana.Pubkey]struct{}, len(addresses))
	keys := make([]solana.Pubkey, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}
