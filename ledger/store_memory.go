package ledger

// MemoryStore keeps nothing: ledger state lives in the Ledger itself and is
// lost on restart. Used in tests and for ephemeral nodes.
type MemoryStore struct{}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns an empty state.
func (s *MemoryStore) Load() (*State, error) {
	return NewState(), nil
}

// PutBalance is a no-op.
func (s *MemoryStore) PutBalance(id string, amount float64) error {
	return nil
}

// PutTransaction is a no-op.
func (s *MemoryStore) PutTransaction(tx *Transaction) error {
	return nil
}

// AppendTransfer is a no-op.
func (s *MemoryStore) AppendTransfer(tr *Transfer) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
