// Package sqlite provides a SQLite-backed persistent store. Entity state is
// snapshotted as JSON buckets, while audit records land in an append-only
// audit_log table, both inside the same database transaction the commit hook
// runs before the in-memory swap.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite. The embedded memory store
// owns all transactional semantics; this layer only writes what it is handed.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens a SQLite-backed persistent store at path, creating the
// schema when absent and hydrating entity state, audit chains, and
// checkpoints from any prior run.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "coppercore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	if err := s.loadAudit(); err != nil {
		return nil, err
	}
	s.SetCommitHook(s.persistCommit)
	return s, nil
}

// The audit_log table is append-only: no statement in this package updates or
// deletes its rows, and verification reads it back in seq order.
func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			chain_key TEXT NOT NULL,
			record BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_log_chain_key ON audit_log(chain_key)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			day TEXT PRIMARY KEY,
			record BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

var sqliteBuckets = []string{"factories", "users", "work_orders", "skus"}

func (s *Store) loadState() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

func (s *Store) loadAudit() error {
	rows, err := s.db.Query(`SELECT record FROM audit_log ORDER BY seq`)
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

	crows, err := s.db.Query(`SELECT record FROM checkpoints ORDER BY day`)
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

// persistCommit writes one committed transaction durably: every state bucket
// is upserted and every sealed audit record appended inside a single SQLite
// transaction. An error here aborts the in-memory commit as well, so the
// database never lags behind served state.
func (s *Store) persistCommit(ctx context.Context, commit memory.Commit) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
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
			retErr = err
			return retErr
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	for _, rec := range commit.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			retErr = fmt.Errorf("encode audit record: %w", err)
			return retErr
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log(chain_key,record) VALUES(?,?)`, rec.ChainKey(), data); err != nil {
			retErr = fmt.Errorf("append audit record: %w", err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendCheckpoint records the checkpoint in memory and then durably. A
// checkpoint lost to a crash between the two writes is recreated by the next
// scheduled run, so no two-phase dance is needed here.
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
	if _, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints(day,record) VALUES(?,?)`, cp.Day, data); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
