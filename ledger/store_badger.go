package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes inside the badger database.
const (
	badgerBalancePrefix  = "balance/"
	badgerTxPrefix       = "tx/"
	badgerTransferPrefix = "transfer/"
)

// BadgerStore persists the ledger in an embedded badger database. Balances
// are point-updated values; transactions and transfers are append-friendly
// JSON records keyed by id.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Load reads the entire persisted ledger state.
func (s *BadgerStore) Load() (*State, error) {
	state := NewState()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			switch {
			case len(key) > len(badgerBalancePrefix) && key[:len(badgerBalancePrefix)] == badgerBalancePrefix:
				id := key[len(badgerBalancePrefix):]
				amount, err := strconv.ParseFloat(string(value), 64)
				if err != nil {
					return fmt.Errorf("corrupt balance record %s: %w", key, err)
				}
				state.Balances[id] = amount

			case len(key) > len(badgerTxPrefix) && key[:len(badgerTxPrefix)] == badgerTxPrefix:
				var tx Transaction
				if err := json.Unmarshal(value, &tx); err != nil {
					return fmt.Errorf("corrupt transaction record %s: %w", key, err)
				}
				if tx.Status != TransactionActive {
					state.History = append(state.History, &tx)
				} else {
					state.Active[tx.ID] = &tx
				}

			case len(key) > len(badgerTransferPrefix) && key[:len(badgerTransferPrefix)] == badgerTransferPrefix:
				var tr Transfer
				if err := json.Unmarshal(value, &tr); err != nil {
					return fmt.Errorf("corrupt transfer record %s: %w", key, err)
				}
				state.Transfers = append(state.Transfers, &tr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(state.History, func(i, j int) bool {
		return state.History[i].CompletedAt.Before(state.History[j].CompletedAt)
	})
	sort.Slice(state.Transfers, func(i, j int) bool {
		return state.Transfers[i].Timestamp.Before(state.Transfers[j].Timestamp)
	})
	return state, nil
}

// PutBalance writes one identity's balance.
func (s *BadgerStore) PutBalance(id string, amount float64) error {
	key := []byte(badgerBalancePrefix + id)
	value := []byte(strconv.FormatFloat(amount, 'f', -1, 64))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// PutTransaction writes a transaction record keyed by its id.
func (s *BadgerStore) PutTransaction(tx *Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	key := []byte(badgerTxPrefix + tx.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// AppendTransfer writes one transfer record keyed by its id.
func (s *BadgerStore) AppendTransfer(tr *Transfer) error {
	value, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	key := []byte(badgerTransferPrefix + tr.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
