package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore keeps the ledger in process memory. Updates are serialized by
// a single lock and staged in an overlay until fn returns.
type MemoryStore struct {
	mu      sync.RWMutex
	mints   map[solana.PublicKey]*Mint
	tokens  map[solana.PublicKey]*TokenAccount
	data    map[solana.PublicKey]*DataAccount
	clock   Clock
	journal []*JournalEntry
}

func NewMemoryStore(genesis Clock) *MemoryStore {
	return &MemoryStore{
		mints:  make(map[solana.PublicKey]*Mint),
		tokens: make(map[solana.PublicKey]*TokenAccount),
		data:   make(map[solana.PublicKey]*DataAccount),
		clock:  genesis,
	}
}

func (s *MemoryStore) Update(ctx context.Context, signers []solana.PublicKey, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.newTx(signers, true)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for addr, mint := range tx.mints {
		s.mints[addr] = mint
	}
	for addr, account := range tx.tokens {
		s.tokens[addr] = account
	}
	for addr, account := range tx.data {
		s.data[addr] = account
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.newTx(nil, false))
}

func (s *MemoryStore) Warp(ctx context.Context, slots uint64) (Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Clock{}, err
	}
	s.clock = s.clock.Advance(slots)
	return s.clock, nil
}

func (s *MemoryStore) AppendJournal(ctx context.Context, entry *JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.journal = append(s.journal, &copied)
	return nil
}

func (s *MemoryStore) Journal(ctx context.Context, address solana.PublicKey, limit int) ([]*JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*JournalEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.journal[i].touches(address) {
			copied := *s.journal[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) JournalEntry(ctx context.Context, sig solana.Signature) (*JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.journal {
		if entry.Signature == sig {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) JournalLen(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.journal)), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) newTx(signers []solana.PublicKey, writable bool) *memTx {
	return &memTx{
		store:    s,
		signers:  signerSet(signers),
		writable: writable,
		mints:    make(map[solana.PublicKey]*Mint),
		tokens:   make(map[solana.PublicKey]*TokenAccount),
		data:     make(map[solana.PublicKey]*DataAccount),
	}
}

type memTx struct {
	store    *MemoryStore
	signers  map[solana.PublicKey]bool
	writable bool

	// staged writes
	mints  map[solana.PublicKey]*Mint
	tokens map[solana.PublicKey]*TokenAccount
	data   map[solana.PublicKey]*DataAccount
}

func (tx *memTx) Clock() Clock {
	return tx.store.clock
}

func (tx *memTx) IsSigner(key solana.PublicKey) bool {
	return tx.signers[key]
}

func (tx *memTx) Invoker() solana.PublicKey {
	return solana.PublicKey{}
}

func (tx *memTx) Log(string) {}

func (tx *memTx) Exists(address solana.PublicKey) (bool, error) {
	if _, err := tx.Mint(address); err == nil {
		return true, nil
	}
	if _, err := tx.TokenAccount(address); err == nil {
		return true, nil
	}
	if _, err := tx.DataAccount(address); err == nil {
		return true, nil
	}
	return false, nil
}

func (tx *memTx) Mint(address solana.PublicKey) (*Mint, error) {
	mint, ok := tx.mints[address]
	if !ok {
		mint, ok = tx.store.mints[address]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copied := *mint
	return &copied, nil
}

func (tx *memTx) TokenAccount(address solana.PublicKey) (*TokenAccount, error) {
	account, ok := tx.tokens[address]
	if !ok {
		account, ok = tx.store.tokens[address]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (tx *memTx) DataAccount(address solana.PublicKey) (*DataAccount, error) {
	account, ok := tx.data[address]
	if !ok {
		account, ok = tx.store.data[address]
	}
	if !ok {
		return nil, ErrNotFound
	}
	return account.clone(), nil
}

func (tx *memTx) DataAccounts(owner solana.PublicKey) ([]*DataAccount, error) {
	merged := make(map[solana.PublicKey]*DataAccount)
	for addr, account := range tx.store.data {
		merged[addr] = account
	}
	for addr, account := range tx.data {
		merged[addr] = account
	}

	var out []*DataAccount
	for _, account := range merged {
		if account.Owner.Equals(owner) {
			out = append(out, account.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (tx *memTx) PutMint(mint *Mint) error {
	if !tx.writable {
		return ErrReadOnly
	}
	copied := *mint
	tx.mints[mint.Address] = &copied
	return nil
}

func (tx *memTx) PutTokenAccount(account *TokenAccount) error {
	if !tx.writable {
		return ErrReadOnly
	}
	copied := *account
	tx.tokens[account.Address] = &copied
	return nil
}

func (tx *memTx) PutDataAccount(account *DataAccount) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.data[account.Address] = account.clone()
	return nil
}
