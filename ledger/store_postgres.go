package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds the connection settings for a Postgres-backed store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"` // Use "require" in production
}

// ConnectionString builds a lib/pq connection string.
func (c PostgresConfig) ConnectionString() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// PostgresStore persists the ledger in PostgreSQL, for nodes that already
// operate a database. The balance table is point-updated; transaction and
// transfer tables are append-friendly.
type PostgresStore struct {
	conn *sql.DB
}

// NewPostgresStore connects to the database and initializes the schema.
func NewPostgresStore(config PostgresConfig) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{conn: conn}
	if err := store.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gridmesh_balances (
		identity VARCHAR(255) PRIMARY KEY,
		amount DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS gridmesh_transactions (
		id VARCHAR(255) PRIMARY KEY,
		workload_id VARCHAR(255) NOT NULL,
		consumer_id VARCHAR(255) NOT NULL,
		provider_id VARCHAR(255) NOT NULL,
		status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed')),
		cpu_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_mb_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		storage_gb_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		network_gb DOUBLE PRECISION NOT NULL DEFAULT 0,
		estimated_credits DOUBLE PRECISION NOT NULL DEFAULT 0,
		final_credits DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_gridmesh_transactions_consumer ON gridmesh_transactions(consumer_id);
	CREATE INDEX IF NOT EXISTS idx_gridmesh_transactions_provider ON gridmesh_transactions(provider_id);
	CREATE INDEX IF NOT EXISTS idx_gridmesh_transactions_status ON gridmesh_transactions(status);

	CREATE TABLE IF NOT EXISTS gridmesh_transfers (
		id VARCHAR(255) PRIMARY KEY,
		source VARCHAR(255) NOT NULL DEFAULT '',
		destination VARCHAR(255) NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_gridmesh_transfers_source ON gridmesh_transfers(source);
	CREATE INDEX IF NOT EXISTS idx_gridmesh_transfers_destination ON gridmesh_transfers(destination);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Load reads the entire persisted ledger state.
func (s *PostgresStore) Load() (*State, error) {
	state := NewState()

	rows, err := s.conn.Query(`SELECT identity, amount FROM gridmesh_balances`)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var amount float64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		state.Balances[id] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.conn.Query(`
		SELECT id, workload_id, consumer_id, provider_id, status,
		       cpu_seconds, memory_mb_seconds, storage_gb_hours, network_gb,
		       estimated_credits, final_credits, created_at, completed_at
		FROM gridmesh_transactions
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		var tx Transaction
		var completedAt sql.NullTime
		err := txRows.Scan(&tx.ID, &tx.WorkloadID, &tx.ConsumerID, &tx.ProviderID, &tx.Status,
			&tx.Usage.CPUSeconds, &tx.Usage.MemoryMBSeconds, &tx.Usage.StorageGBHours, &tx.Usage.NetworkGB,
			&tx.EstimatedCredits, &tx.FinalCredits, &tx.CreatedAt, &completedAt)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			tx.CompletedAt = completedAt.Time
		}
		if tx.Status != TransactionActive {
			state.History = append(state.History, &tx)
		} else {
			state.Active[tx.ID] = &tx
		}
	}
	if err := txRows.Err(); err != nil {
		return nil, err
	}

	trRows, err := s.conn.Query(`
		SELECT id, source, destination, amount, reason, created_at
		FROM gridmesh_transfers
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}
	defer trRows.Close()
	for trRows.Next() {
		var tr Transfer
		if err := trRows.Scan(&tr.ID, &tr.Source, &tr.Destination, &tr.Amount, &tr.Reason, &tr.Timestamp); err != nil {
			return nil, err
		}
		state.Transfers = append(state.Transfers, &tr)
	}
	return state, trRows.Err()
}

// PutBalance upserts one identity's balance.
func (s *PostgresStore) PutBalance(id string, amount float64) error {
	_, err := s.conn.Exec(`
		INSERT INTO gridmesh_balances (identity, amount, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (identity) DO UPDATE
		SET amount = EXCLUDED.amount, updated_at = CURRENT_TIMESTAMP`,
		id, amount)
	return err
}

// PutTransaction upserts a transaction record.
func (s *PostgresStore) PutTransaction(tx *Transaction) error {
	var completedAt sql.NullTime
	if !tx.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: tx.CompletedAt, Valid: true}
	}
	_, err := s.conn.Exec(`
		INSERT INTO gridmesh_transactions
			(id, workload_id, consumer_id, provider_id, status,
			 cpu_seconds, memory_mb_seconds, storage_gb_hours, network_gb,
			 estimated_credits, final_credits, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			cpu_seconds = EXCLUDED.cpu_seconds,
			memory_mb_seconds = EXCLUDED.memory_mb_seconds,
			storage_gb_hours = EXCLUDED.storage_gb_hours,
			network_gb = EXCLUDED.network_gb,
			estimated_credits = EXCLUDED.estimated_credits,
			final_credits = EXCLUDED.final_credits,
			completed_at = EXCLUDED.completed_at`,
		tx.ID, tx.WorkloadID, tx.ConsumerID, tx.ProviderID, tx.Status,
		tx.Usage.CPUSeconds, tx.Usage.MemoryMBSeconds, tx.Usage.StorageGBHours, tx.Usage.NetworkGB,
		tx.EstimatedCredits, tx.FinalCredits, tx.CreatedAt, completedAt)
	return err
}

// AppendTransfer inserts one immutable transfer record.
func (s *PostgresStore) AppendTransfer(tr *Transfer) error {
	_, err := s.conn.Exec(`
		INSERT INTO gridmesh_transfers (id, source, destination, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.Source, tr.Destination, tr.Amount, tr.Reason, tr.Timestamp)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}
