package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/util/metrics"
	"github.com/gridmesh/gridmesh/util/uniqueid"
)

// Ledger owns the balance and transaction tables. Every operation runs
// under a single mutex: transfers perform a non-atomic read-verify-write
// across two balances, so global serialization is the correctness
// requirement here, made explicit rather than inherited from a
// single-threaded runtime.
type Ledger struct {
	mu sync.Mutex

	nodeID    string
	balances  map[string]float64
	active    map[string]*Transaction
	history   []*Transaction // completed, oldest first
	transfers []*Transfer    // oldest first

	store  Store
	logger *logger.Logger

	now func() time.Time // overridable in tests
}

// New creates a Ledger backed by store, loading any persisted state.
func New(store Store, nodeID string) (*Ledger, error) {
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}

	l := &Ledger{
		nodeID:    nodeID,
		balances:  state.Balances,
		active:    state.Active,
		history:   state.History,
		transfers: state.Transfers,
		store:     store,
		logger:    logger.NewLogger("Ledger"),
		now:       time.Now,
	}
	if len(l.active) > 0 {
		l.logger.Infof("Loaded %d active transactions from store", len(l.active))
	}
	return l, nil
}

// Balance returns the identity's balance, implicitly initializing a zero
// entry for identities never seen before.
func (l *Ledger) Balance(id string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[id]; !ok {
		l.balances[id] = 0
	}
	return l.balances[id]
}

// AddCredits issues credits to an identity. This is the only operation that
// changes the sum of all balances.
func (l *Ledger) AddCredits(id string, amount float64, reason string) (*Transfer, error) {
	if amount <= 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("issuance amount must be positive, got %f", amount))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[id] += amount
	tr := &Transfer{
		ID:          uniqueid.UniqueId(),
		Destination: id,
		Amount:      amount,
		Reason:      reason,
		Timestamp:   l.now(),
	}
	l.transfers = append(l.transfers, tr)

	if err := l.store.PutBalance(id, l.balances[id]); err != nil {
		return nil, fmt.Errorf("failed to persist balance: %w", err)
	}
	if err := l.store.AppendTransfer(tr); err != nil {
		return nil, fmt.Errorf("failed to persist transfer: %w", err)
	}

	l.logger.Infof("Issued %.4f credits to %s (%s)", amount, id, reason)
	return tr, nil
}

// StartTracking opens the transaction for a workload's execution, seeding
// wholly-new consumer and provider identities with the starting allotment.
// It returns the new transaction's id.
func (l *Ledger) StartTracking(workloadID, consumerID, providerID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range []string{consumerID, providerID} {
		if _, ok := l.balances[id]; !ok {
			l.balances[id] = DefaultStartingBalance
			if err := l.store.PutBalance(id, DefaultStartingBalance); err != nil {
				return "", fmt.Errorf("failed to persist starting balance for %s: %w", id, err)
			}
			l.logger.Infof("Seeded new identity %s with %.0f credits", id, DefaultStartingBalance)
		}
	}

	createdAt := l.now()
	txID := fmt.Sprintf("%s-%d", workloadID, createdAt.UnixNano())
	if _, exists := l.active[txID]; exists {
		return "", fmt.Errorf("transaction id collision: %s", txID)
	}

	tx := &Transaction{
		ID:         txID,
		WorkloadID: workloadID,
		ConsumerID: consumerID,
		ProviderID: providerID,
		Status:     TransactionActive,
		CreatedAt:  createdAt,
	}
	l.active[txID] = tx

	if err := l.store.PutTransaction(tx); err != nil {
		delete(l.active, txID)
		return "", fmt.Errorf("failed to persist transaction: %w", err)
	}

	l.logger.Infof("Tracking workload %s: consumer=%s provider=%s tx=%s", workloadID, consumerID, providerID, txID)
	return txID, nil
}

// UpdateUsage adds a usage delta to an active transaction and recomputes
// its estimated credits from the tariff.
func (l *Ledger) UpdateUsage(txID string, delta ResourceUsage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.active[txID]
	if !ok {
		return errors.NewNotFound("transaction", txID)
	}

	tx.Usage.Add(delta)
	tx.EstimatedCredits = tx.Usage.Credits()

	if err := l.store.PutTransaction(tx); err != nil {
		return fmt.Errorf("failed to persist usage update: %w", err)
	}
	return nil
}

// Complete settles an active transaction: final credits are computed from
// cumulative usage and transferred atomically from consumer to provider,
// then the transaction moves into history. If the consumer cannot cover the
// amount the completion aborts and the transaction stays active, so callers
// must treat Complete as fallible and decide their own retry policy. A
// second Complete on the same transaction fails with not-found.
func (l *Ledger) Complete(txID string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.active[txID]
	if !ok {
		return nil, errors.NewNotFound("transaction", txID)
	}

	amount := tx.Usage.Credits()
	reason := fmt.Sprintf("settlement for workload %s", tx.WorkloadID)
	if _, err := l.transferLocked(tx.ConsumerID, tx.ProviderID, amount, reason); err != nil {
		return nil, err
	}

	tx.FinalCredits = amount
	tx.Status = TransactionCompleted
	tx.CompletedAt = l.now()
	delete(l.active, txID)
	l.history = append(l.history, tx)

	if err := l.store.PutTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to persist completed transaction: %w", err)
	}

	l.logger.Infof("Settled tx %s: %.4f credits %s -> %s", txID, amount, tx.ConsumerID, tx.ProviderID)
	return tx, nil
}

// Cancel voids a transaction whose workload never ran. The transaction is
// closed without a settlement transfer, so the transfer log only records
// real balance movements.
func (l *Ledger) Cancel(txID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.active[txID]
	if !ok {
		return errors.NewNotFound("transaction", txID)
	}

	tx.Status = TransactionCancelled
	tx.CompletedAt = l.now()
	delete(l.active, txID)
	l.history = append(l.history, tx)

	if err := l.store.PutTransaction(tx); err != nil {
		return fmt.Errorf("failed to persist cancelled transaction: %w", err)
	}

	l.logger.Infof("Cancelled tx %s for workload %s", txID, tx.WorkloadID)
	return nil
}

// Transfer atomically moves amount from one identity to another.
func (l *Ledger) Transfer(from, to string, amount float64, reason string) (*Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount, reason)
}

// transferLocked is the atomic primitive: read both balances, verify
// sufficiency, write both, append one transfer record. Callers hold l.mu.
func (l *Ledger) transferLocked(from, to string, amount float64, reason string) (*Transfer, error) {
	if amount < 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("transfer amount must not be negative, got %f", amount))
	}

	balance := l.balances[from]
	if balance < amount {
		metrics.RecordTransfer(l.nodeID, "insufficient_balance", 0)
		return nil, &errors.InsufficientBalanceError{ID: from, Balance: balance, Amount: amount}
	}

	l.balances[from] = balance - amount
	l.balances[to] += amount

	tr := &Transfer{
		ID:          uniqueid.UniqueId(),
		Source:      from,
		Destination: to,
		Amount:      amount,
		Reason:      reason,
		Timestamp:   l.now(),
	}
	l.transfers = append(l.transfers, tr)

	if err := l.store.PutBalance(from, l.balances[from]); err != nil {
		return nil, fmt.Errorf("failed to persist source balance: %w", err)
	}
	if err := l.store.PutBalance(to, l.balances[to]); err != nil {
		return nil, fmt.Errorf("failed to persist destination balance: %w", err)
	}
	if err := l.store.AppendTransfer(tr); err != nil {
		return nil, fmt.Errorf("failed to persist transfer: %w", err)
	}

	metrics.RecordTransfer(l.nodeID, "completed", amount)
	return tr, nil
}

// ActiveTransaction returns a copy of an active transaction.
func (l *Ledger) ActiveTransaction(txID string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.active[txID]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// ActiveTransactionForWorkload returns a copy of the active transaction
// opened for the given workload, if any. Used to recover settlement state
// when the in-memory workload table was lost to a restart.
func (l *Ledger) ActiveTransactionForWorkload(workloadID string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, tx := range l.active {
		if tx.WorkloadID == workloadID {
			return *tx, true
		}
	}
	return Transaction{}, false
}

// History returns the transactions and transfers touching id, newest first,
// each list bounded by limit.
func (l *Ledger) History(id string, limit int) *History {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := &History{}

	for i := len(l.history) - 1; i >= 0 && len(h.Transactions) < limit; i-- {
		tx := l.history[i]
		if tx.ConsumerID == id || tx.ProviderID == id {
			copied := *tx
			h.Transactions = append(h.Transactions, &copied)
		}
	}
	for i := len(l.transfers) - 1; i >= 0 && len(h.Transfers) < limit; i-- {
		tr := l.transfers[i]
		if tr.Source == id || tr.Destination == id {
			copied := *tr
			h.Transfers = append(h.Transfers, &copied)
		}
	}
	return h
}

// TotalBalance returns the sum of all balances. Used to verify the zero-sum
// property in tests and operational checks.
func (l *Ledger) TotalBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum float64
	for _, amount := range l.balances {
		sum += amount
	}
	return sum
}
