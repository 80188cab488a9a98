package ledger

import (
	"fmt"
)

// State is the full persisted ledger state loaded at startup.
type State struct {
	Balances  map[string]float64
	Active    map[string]*Transaction
	History   []*Transaction // completed transactions, oldest first
	Transfers []*Transfer    // oldest first
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		Balances: make(map[string]float64),
		Active:   make(map[string]*Transaction),
	}
}

// Store persists ledger state across restarts. Balances are point-updated;
// transactions and transfers are append-friendly logs. Implementations need
// not be safe for concurrent use: the Ledger serializes all writes.
type Store interface {
	// Load reads the entire persisted state. A fresh store returns an
	// empty State, not an error.
	Load() (*State, error)

	// PutBalance writes one identity's balance.
	PutBalance(id string, amount float64) error

	// PutTransaction writes a transaction keyed by id; completed
	// transactions overwrite their active record.
	PutTransaction(tx *Transaction) error

	// AppendTransfer appends one immutable transfer record.
	AppendTransfer(tr *Transfer) error

	Close() error
}

// Store kinds accepted by Open.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Open creates a Store of the given kind. Badger stores open the database
// at path; postgres stores connect with pg.
func Open(kind, path string, pg PostgresConfig) (Store, error) {
	switch kind {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreBadger:
		return NewBadgerStore(path)
	case StorePostgres:
		return NewPostgresStore(pg)
	default:
		return nil, fmt.Errorf("unknown ledger store kind: %s", kind)
	}
}
