// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics. Entity state is upserted as JSONB buckets and audit
// records are appended to an append-only log, both inside the database
// transaction the commit hook runs before the in-memory swap.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/coppercore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the schema exists, and hydrates entity state, audit
// chains, and checkpoints from any prior run.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db}
	if err := s.loadState(ctx); err != nil {
		return nil, err
	}
	if err := s.loadAudit(ctx); err != nil {
		return nil, err
	}
	s.SetCommitHook(s.persistCommit)
	return s, nil
}

// audit_log is append-only: nothing in this package updates or deletes its
// rows, and hydration replays them in seq order.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq BIGSERIAL PRIMARY KEY,
			chain_key TEXT NOT NULL,
			record JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_log_chain_key ON audit_log(chain_key)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			day TEXT PRIMARY KEY,
			record JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var postgresBuckets = []string{"factories", "users", "work_orders", "skus"}

func (s *Store) loadState(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		found = true
		switch bucket {
		case "factories":
			err = json.Unmarshal(payload, &snapshot.Factories)
		case "users":
			err = json.Unmarshal(payload, &snapshot.Users)
		case "work_orders":
			err = json.Unmarshal(payload, &snapshot.WorkOrders)
		case "skus":
			err = json.Unmarshal(payload, &snapshot.SKUs)
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) loadAudit(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM audit_log ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("select audit_log: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var records []domain.AuditRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan audit_log: %w", err)
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit_log: %w", err)
	}

	crows, err := s.db.QueryContext(ctx, `SELECT record FROM checkpoints ORDER BY day`)
	if err != nil {
		return fmt.Errorf("select checkpoints: %w", err)
	}
	defer func() { _ = crows.Close() }()
	var checkpoints []domain.Checkpoint
	for crows.Next() {
		var payload []byte
		if err := crows.Scan(&payload); err != nil {
			return fmt.Errorf("scan checkpoints: %w", err)
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(payload, &cp); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := crows.Err(); err != nil {
		return fmt.Errorf("iterate checkpoints: %w", err)
	}

	if len(records) > 0 || len(checkpoints) > 0 {
		s.ImportAudit(memory.AuditSnapshot{Records: records, Checkpoints: checkpoints})
	}
	return nil
}

func (s *Store) persistCommit(ctx context.Context, commit memory.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
		var data []byte
		switch bucket {
		case "factories":
			data, err = json.Marshal(commit.Snapshot.Factories)
		case "users":
			data, err = json.Marshal(commit.Snapshot.Users)
		case "work_orders":
			data, err = json.Marshal(commit.Snapshot.WorkOrders)
		case "skus":
			data, err = json.Marshal(commit.Snapshot.SKUs)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	for _, rec := range commit.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log(chain_key,record) VALUES($1,$2)`, rec.ChainKey(), data); err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// AppendCheckpoint records the checkpoint in memory and then durably. A
// checkpoint lost between the two writes is recreated by the next scheduled
// run.
func (s *Store) AppendCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if err := s.Store.AppendCheckpoint(ctx, cp); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints(day,record) VALUES($1,$2)`, cp.Day, data); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
