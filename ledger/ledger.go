// Package ledger holds the account state the staking program runs against:
// mints, token accounts, program data accounts and the cluster clock. All
// writes go through Store.Update, which applies them atomically.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// SlotDuration is the nominal length of a slot.
const SlotDuration = 400 * time.Millisecond

var (
	ErrNotFound = errors.New("ledger: account not found")
	ErrReadOnly = errors.New("ledger: write in read-only transaction")
)

type Mint struct {
	Address       solana.PublicKey
	MintAuthority solana.PublicKey
	Decimals      uint8
	Supply        uint64
}

// TokenAccount is an SPL style token account. Owner is the key allowed to move its balance.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// DataAccount is an account whose bytes belong to a program.
type DataAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
}

func (a *DataAccount) clone() *DataAccount {
	return &DataAccount{Address: a.Address, Owner: a.Owner, Data: bytes.Clone(a.Data)}
}

type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// Advance returns the clock moved forward by slots.
func (c Clock) Advance(slots uint64) Clock {
	return Clock{
		Slot:          c.Slot + slots,
		UnixTimestamp: c.UnixTimestamp + int64(time.Duration(slots)*SlotDuration/time.Second),
	}
}

// GenesisClock starts a ledger at slot 0 at the given wall time.
func GenesisClock(t time.Time) Clock {
	return Clock{UnixTimestamp: t.Unix()}
}

// Tx is the view a single transaction has of the ledger.
type Tx interface {
	Clock() Clock
	IsSigner(key solana.PublicKey) bool
	// Invoker is the program executing the current instruction, zero outside one.
	Invoker() solana.PublicKey
	Log(msg string)

	Exists(address solana.PublicKey) (bool, error)
	Mint(address solana.PublicKey) (*Mint, error)
	TokenAccount(address solana.PublicKey) (*TokenAccount, error)
	DataAccount(address solana.PublicKey) (*DataAccount, error)
	DataAccounts(owner solana.PublicKey) ([]*DataAccount, error)

	PutMint(mint *Mint) error
	PutTokenAccount(account *TokenAccount) error
	PutDataAccount(account *DataAccount) error
}

// JournalEntry records one processed transaction, successful or not.
type JournalEntry struct {
	ID        uuid.UUID
	Signature solana.Signature
	Slot      uint64
	BlockTime int64
	Raw       []byte
	Err       string
	Logs      []string
	Accounts  []solana.PublicKey
}

func (e *JournalEntry) touches(address solana.PublicKey) bool {
	for _, account := range e.Accounts {
		if account.Equals(address) {
			return true
		}
	}
	return false
}

// Store persists ledger state.
type Store interface {
	// Update runs fn in a read-write transaction signed by signers. An error
	// from fn discards every write it made.
	Update(ctx context.Context, signers []solana.PublicKey, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Warp(ctx context.Context, slots uint64) (Clock, error)

	AppendJournal(ctx context.Context, entry *JournalEntry) error
	Journal(ctx context.Context, address solana.PublicKey, limit int) ([]*JournalEntry, error)
	JournalEntry(ctx context.Context, sig solana.Signature) (*JournalEntry, error)
	// JournalLen is the number of journaled transactions.
	JournalLen(ctx context.Context) (uint64, error)

	Close() error
}

type invocation struct {
	Tx
	programID solana.PublicKey
	logs      *[]string
}

// Invoke returns tx as seen from inside programID. Log lines are appended to
// logs when it is not nil.
func Invoke(tx Tx, programID solana.PublicKey, logs *[]string) Tx {
	return &invocation{Tx: tx, programID: programID, logs: logs}
}

func (i *invocation) Invoker() solana.PublicKey {
	return i.programID
}

func (i *invocation) Log(msg string) {
	if i.logs != nil {
		*i.logs = append(*i.logs, "Program log: "+msg)
	}
}

func signerSet(signers []solana.PublicKey) map[solana.PublicKey]bool {
	set := make(map[solana.PublicKey]bool, len(signers))
	for _, signer := range signers {
		set[signer] = true
	}
	return set
}
