package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/internal/core"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/sqlite"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// testDeployment provisions a sqlite store and a filesystem blob root under
// a temp directory, plus a config.yaml pointing at them, so commands run
// against persistence that survives across invocations.
type testDeployment struct {
	configDir  string
	sqlitePath string
	blobRoot   string
}

func newTestDeployment(t *testing.T) *testDeployment {
	t.Helper()
	dir := t.TempDir()
	d := &testDeployment{
		configDir:  dir,
		sqlitePath: filepath.Join(dir, "core.db"),
		blobRoot:   filepath.Join(dir, "blobs"),
	}
	content := fmt.Sprintf("storage:\n  driver: sqlite\n  sqlite_path: %s\nblob:\n  driver: fs\n  fs_root: %s\n",
		d.sqlitePath, d.blobRoot)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return d
}

// service opens the deployment's store directly for seeding fixtures.
func (d *testDeployment) service(t *testing.T) *core.Service {
	t.Helper()
	store, err := sqlite.NewStore(d.sqlitePath, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return core.NewService(store)
}

// seedSKU creates a factory and a sku with one committed update, so the
// sku's chain has two records. Returns both ids.
func (d *testDeployment) seedSKU(t *testing.T) (factoryID, skuID string) {
	t.Helper()
	svc := d.service(t)
	ctx := context.Background()
	session := adminSession()

	factory, _, err := svc.CreateFactory(ctx, session, domain.Factory{Code: "LHR", Name: "Lahore Rod Mill"})
	if err != nil {
		t.Fatalf("seed factory: %v", err)
	}
	sku, _, err := svc.CreateSKU(ctx, session, domain.SKU{
		Base:        domain.Base{FactoryID: factory.ID},
		Code:        "CU-ROD-8",
		Description: "8mm rod",
		CopperGrade: "C11000",
		GaugeMM:     8,
	})
	if err != nil {
		t.Fatalf("seed sku: %v", err)
	}
	if _, _, err := svc.UpdateSKU(ctx, session, sku.ID, 1, map[string]any{"description": "8 mm rod"}); err != nil {
		t.Fatalf("update sku: %v", err)
	}
	return factory.ID, sku.ID
}

// tamperAuditRecord rewrites the actor inside the first persisted record of
// one chain without resealing the hash, simulating direct database
// manipulation behind the service's back.
func (d *testDeployment) tamperAuditRecord(t *testing.T, target domain.EntityType, targetID string) {
	t.Helper()
	db, err := sql.Open("sqlite", d.sqlitePath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	chainKey := domain.ChainKey(target, targetID)
	var seq int64
	var record []byte
	row := db.QueryRow(`SELECT seq, record FROM audit_log WHERE chain_key = ? ORDER BY seq LIMIT 1`, chainKey)
	if err := row.Scan(&seq, &record); err != nil {
		t.Fatalf("read audit record for %s: %v", chainKey, err)
	}
	tampered := bytes.Replace(record, []byte(`"actor":"root"`), []byte(`"actor":"mallory"`), 1)
	if bytes.Equal(tampered, record) {
		t.Fatalf("expected an actor field to tamper in %s", record)
	}
	if _, err := db.Exec(`UPDATE audit_log SET record = ? WHERE seq = ?`, tampered, seq); err != nil {
		t.Fatalf("tamper audit record: %v", err)
	}
}

// tamperChainHead replaces the sealed hash on the newest record of one
// chain. That breaks the chain itself and any checkpoint digest covering
// it.
func (d *testDeployment) tamperChainHead(t *testing.T, target domain.EntityType, targetID string) {
	t.Helper()
	db, err := sql.Open("sqlite", d.sqlitePath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	chainKey := domain.ChainKey(target, targetID)
	var seq int64
	var record []byte
	row := db.QueryRow(`SELECT seq, record FROM audit_log WHERE chain_key = ? ORDER BY seq DESC LIMIT 1`, chainKey)
	if err := row.Scan(&seq, &record); err != nil {
		t.Fatalf("read chain head for %s: %v", chainKey, err)
	}
	var rec domain.AuditRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		t.Fatalf("decode chain head: %v", err)
	}
	rec.Hash = strings.Repeat("ab", 32)
	doctored, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("encode doctored record: %v", err)
	}
	if _, err := db.Exec(`UPDATE audit_log SET record = ? WHERE seq = ?`, doctored, seq); err != nil {
		t.Fatalf("tamper chain head: %v", err)
	}
}

// run executes the CLI with the deployment's config flag appended and
// returns stdout, stderr, and the exit code.
func (d *testDeployment) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args, "--config", d.configDir))
	code := ExitSuccess
	if err := cmd.Execute(); err != nil {
		code = GetExitCode(err)
	}
	return out.String(), errOut.String(), code
}

// responseEnvelope mirrors Response with a typed data field for decoding
// JSON-mode output in assertions.
type responseEnvelope[T any] struct {
	Status string         `json:"status"`
	Data   T              `json:"data"`
	Error  *ResponseError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) responseEnvelope[T] {
	t.Helper()
	var resp responseEnvelope[T]
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode response %q: %v", out, err)
	}
	return resp
}

func adminSession() domain.Session {
	return domain.NewSession(domain.Principal{Subject: "root", Role: domain.RoleAdmin, Global: true}, domain.Actor{})
}
