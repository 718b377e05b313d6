package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"staking-rewards/ledger/migrations"
)

// SQLiteStore persists the ledger in a SQLite database. It holds a single
// connection, so SQL transactions and therefore ledger updates never interleave.
type SQLiteStore struct {
	db *sql.DB
}

// migrationLogger sends goose output to zerolog at debug level.
type migrationLogger struct {
	log zerolog.Logger
}

func (l migrationLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrationLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatal().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	log zerolog.Logger
}

// WithMigrationLogger receives the schema migration progress.
func WithMigrationLogger(log zerolog.Logger) SQLiteOption {
	return func(o *sqliteOptions) {
		o.log = log
	}
}

// RunMigrations applies the embedded schema to db.
func RunMigrations(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	goose.SetLogger(migrationLogger{log: log})
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (or creates) the ledger at dsn. genesis seeds the clock of
// a new ledger and is ignored for an existing one.
func OpenSQLite(ctx context.Context, dsn string, genesis Clock, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db, o.log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO clock (id, slot, unix_timestamp) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING`,
		int64(genesis.Slot), genesis.UnixTimestamp,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to seed ledger clock: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, signers []solana.PublicKey, fn func(tx Tx) error) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, q DBTX) error {
		tx, err := s.newTx(ctx, q, signers, true)
		if err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, q DBTX) error {
		tx, err := s.newTx(ctx, q, nil, false)
		if err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *SQLiteStore) Warp(ctx context.Context, slots uint64) (Clock, error) {
	var clock Clock
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, q DBTX) error {
		current, err := readClock(ctx, q)
		if err != nil {
			return err
		}
		clock = current.Advance(slots)
		_, err = q.ExecContext(ctx,
			`UPDATE clock SET slot = ?, unix_timestamp = ? WHERE id = 1`,
			int64(clock.Slot), clock.UnixTimestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to update clock: %w", err)
		}
		return nil
	})
	return clock, err
}

func (s *SQLiteStore) AppendJournal(ctx context.Context, entry *JournalEntry) error {
	logs, err := json.Marshal(entry.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode journal logs: %w", err)
	}
	return WithTx(ctx, s.db, nil, func(ctx context.Context, q DBTX) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO journal (id, signature, slot, block_time, raw, err, logs)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, entry.ID.String(), entry.Signature.String(), int64(entry.Slot), entry.BlockTime, entry.Raw, entry.Err, string(logs))
		if err != nil {
			return fmt.Errorf("failed to insert journal entry %s: %w", entry.Signature, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read journal sequence: %w", err)
		}
		for _, account := range entry.Accounts {
			_, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO journal_accounts (seq, address) VALUES (?, ?)`,
				seq, account.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to index journal entry %s: %w", entry.Signature, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Journal(ctx context.Context, address solana.PublicKey, limit int) ([]*JournalEntry, error) {
	query := `
		SELECT j.seq, j.id, j.signature, j.slot, j.block_time, j.raw, j.err, j.logs
		FROM journal j
		JOIN journal_accounts a ON a.seq = j.seq
		WHERE a.address = ?
		ORDER BY j.seq DESC`
	args := []any{address.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	var seqs []int64
	for rows.Next() {
		entry, seq, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}

	for i, entry := range entries {
		if entry.Accounts, err = s.journalAccounts(ctx, seqs[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *SQLiteStore) JournalEntry(ctx context.Context, sig solana.Signature) (*JournalEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, signature, slot, block_time, raw, err, logs
		FROM journal WHERE signature = ?
	`, sig.String())
	entry, seq, err := scanJournal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.Accounts, err = s.journalAccounts(ctx, seq); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStore) JournalLen(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return uint64(n), nil
}

func (s *SQLiteStore) journalAccounts(ctx context.Context, seq int64) ([]solana.PublicKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM journal_accounts WHERE seq = ?`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal accounts: %w", err)
	}
	defer rows.Close()

	var out []solana.PublicKey
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan journal account: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return nil, fmt.Errorf("corrupt journal account %q: %w", address, err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJournal(row scanner) (*JournalEntry, int64, error) {
	var (
		seq       int64
		id        string
		signature string
		slot      int64
		logs      string
		entry     JournalEntry
	)
	if err := row.Scan(&seq, &id, &signature, &slot, &entry.BlockTime, &entry.Raw, &entry.Err, &logs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("failed to scan journal entry: %w", err)
	}

	var err error
	if entry.ID, err = uuid.Parse(id); err != nil {
		return nil, 0, fmt.Errorf("corrupt journal id %q: %w", id, err)
	}
	if entry.Signature, err = solana.SignatureFromBase58(signature); err != nil {
		return nil, 0, fmt.Errorf("corrupt journal signature %q: %w", signature, err)
	}
	if err := json.Unmarshal([]byte(logs), &entry.Logs); err != nil {
		return nil, 0, fmt.Errorf("corrupt journal logs: %w", err)
	}
	entry.Slot = uint64(slot)
	return &entry, seq, nil
}

func readClock(ctx context.Context, q DBTX) (Clock, error) {
	var slot int64
	var clock Clock
	err := q.QueryRowContext(ctx, `SELECT slot, unix_timestamp FROM clock WHERE id = 1`).Scan(&slot, &clock.UnixTimestamp)
	if err != nil {
		return Clock{}, fmt.Errorf("failed to read clock: %w", err)
	}
	clock.Slot = uint64(slot)
	return clock, nil
}

func (s *SQLiteStore) newTx(ctx context.Context, q DBTX, signers []solana.PublicKey, writable bool) (*sqlTx, error) {
	clock, err := readClock(ctx, q)
	if err != nil {
		return nil, err
	}
	return &sqlTx{
		ctx:      ctx,
		q:        q,
		clock:    clock,
		signers:  signerSet(signers),
		writable: writable,
	}, nil
}

// sqlTx stores pubkeys as base58 text and u64 values bit-cast to INTEGER.
type sqlTx struct {
	ctx      context.Context
	q        DBTX
	clock    Clock
	signers  map[solana.PublicKey]bool
	writable bool
}

func (tx *sqlTx) Clock() Clock {
	return tx.clock
}

func (tx *sqlTx) IsSigner(key solana.PublicKey) bool {
	return tx.signers[key]
}

func (tx *sqlTx) Invoker() solana.PublicKey {
	return solana.PublicKey{}
}

func (tx *sqlTx) Log(string) {}

func (tx *sqlTx) Exists(address solana.PublicKey) (bool, error) {
	var n int
	err := tx.q.QueryRowContext(tx.ctx, `
		SELECT
			(SELECT COUNT(*) FROM mints WHERE address = ?1) +
			(SELECT COUNT(*) FROM token_accounts WHERE address = ?1) +
			(SELECT COUNT(*) FROM data_accounts WHERE address = ?1)
	`, address.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check account %s: %w", address, err)
	}
	return n > 0, nil
}

func (tx *sqlTx) Mint(address solana.PublicKey) (*Mint, error) {
	var authority string
	var decimals, supply int64
	err := tx.q.QueryRowContext(tx.ctx,
		`SELECT mint_authority, decimals, supply FROM mints WHERE address = ?`,
		address.String(),
	).Scan(&authority, &decimals, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mint %s: %w", address, err)
	}
	mint := &Mint{Address: address, Decimals: uint8(decimals), Supply: uint64(supply)}
	if mint.MintAuthority, err = solana.PublicKeyFromBase58(authority); err != nil {
		return nil, fmt.Errorf("corrupt mint authority for %s: %w", address, err)
	}
	return mint, nil
}

func (tx *sqlTx) TokenAccount(address solana.PublicKey) (*TokenAccount, error) {
	var mint, owner string
	var amount int64
	err := tx.q.QueryRowContext(tx.ctx,
		`SELECT mint, owner, amount FROM token_accounts WHERE address = ?`,
		address.String(),
	).Scan(&mint, &owner, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token account %s: %w", address, err)
	}
	account := &TokenAccount{Address: address, Amount: uint64(amount)}
	if account.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
		return nil, fmt.Errorf("corrupt token account mint for %s: %w", address, err)
	}
	if account.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("corrupt token account owner for %s: %w", address, err)
	}
	return account, nil
}

func (tx *sqlTx) DataAccount(address solana.PublicKey) (*DataAccount, error) {
	var owner string
	account := &DataAccount{Address: address}
	err := tx.q.QueryRowContext(tx.ctx,
		`SELECT owner, data FROM data_accounts WHERE address = ?`,
		address.String(),
	).Scan(&owner, &account.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data account %s: %w", address, err)
	}
	if account.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("corrupt data account owner for %s: %w", address, err)
	}
	return account, nil
}

func (tx *sqlTx) DataAccounts(owner solana.PublicKey) ([]*DataAccount, error) {
	rows, err := tx.q.QueryContext(tx.ctx,
		`SELECT address, data FROM data_accounts WHERE owner = ? ORDER BY address`,
		owner.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list data accounts: %w", err)
	}
	defer rows.Close()

	var out []*DataAccount
	for rows.Next() {
		var address string
		account := &DataAccount{Owner: owner}
		if err := rows.Scan(&address, &account.Data); err != nil {
			return nil, fmt.Errorf("failed to scan data account: %w", err)
		}
		if account.Address, err = solana.PublicKeyFromBase58(address); err != nil {
			return nil, fmt.Errorf("corrupt data account address %q: %w", address, err)
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (tx *sqlTx) PutMint(mint *Mint) error {
	if !tx.writable {
		return ErrReadOnly
	}
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO mints (address, mint_authority, decimals, supply) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			mint_authority = excluded.mint_authority,
			decimals = excluded.decimals,
			supply = excluded.supply
	`, mint.Address.String(), mint.MintAuthority.String(), int64(mint.Decimals), int64(mint.Supply))
	if err != nil {
		return fmt.Errorf("failed to put mint %s: %w", mint.Address, err)
	}
	return nil
}

func (tx *sqlTx) PutTokenAccount(account *TokenAccount) error {
	if !tx.writable {
		return ErrReadOnly
	}
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO token_accounts (address, mint, owner, amount) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			mint = excluded.mint,
			owner = excluded.owner,
			amount = excluded.amount
	`, account.Address.String(), account.Mint.String(), account.Owner.String(), int64(account.Amount))
	if err != nil {
		return fmt.Errorf("failed to put token account %s: %w", account.Address, err)
	}
	return nil
}

func (tx *sqlTx) PutDataAccount(account *DataAccount) error {
	if !tx.writable {
		return ErrReadOnly
	}
	data := account.Data
	if data == nil {
		data = []byte{}
	}
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO data_accounts (address, owner, data) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			owner = excluded.owner,
			data = excluded.data
	`, account.Address.String(), account.Owner.String(), data)
	if err != nil {
		return fmt.Errorf("failed to put data account %s: %w", account.Address, err)
	}
	return nil
}
