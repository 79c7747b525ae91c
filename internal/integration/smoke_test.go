package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/i2kashif/CopperCore-sub002/internal/blob"
	"github.com/i2kashif/CopperCore-sub002/internal/core"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/sqlite"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// TestIntegrationSmoke exercises a minimal end-to-end write/verify cycle for
// each supported in-process storage and blob adapter. It intentionally keeps
// scope tiny so it can act as a fast CI health check.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	session := domain.NewSession(domain.Principal{Subject: "root", Role: domain.RoleAdmin, Global: true}, domain.Actor{})

	storeVariants := []struct {
		name string
		open func(t *testing.T) domain.PersistentStore
	}{
		{
			name: "memory-store",
			open: func(_ *testing.T) domain.PersistentStore {
				return memory.NewStore(core.NewDefaultRulesEngine())
			},
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) domain.PersistentStore {
				path := filepath.Join(t.TempDir(), "core.db")
				s, err := sqlite.NewStore(path, core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				return s
			},
		},
	}

	// Include the mocked S3 transport alongside the local adapters so the
	// smoke test covers every blob driver in one place.
	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{
			name: "memory-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMemory() },
		},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				fs, err := blob.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new filesystem blob: %v", err)
				}
				return fs
			},
		},
		{
			name: "mock-s3-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMockS3ForTests() },
		},
	}

	for _, sv := range storeVariants {
		t.Run(sv.name, func(t *testing.T) {
			store := sv.open(t)
			metricsRecorder := core.NewExpvarMetricsRecorder("")
			var traceBuffer bytes.Buffer
			tracer := core.NewJSONTracer(&traceBuffer)
			svc := core.NewService(
				store,
				core.WithMetricsRecorder(metricsRecorder),
				core.WithTracer(tracer),
			)

			factory, _, err := svc.CreateFactory(ctx, session, domain.Factory{Code: "LHR", Name: "Lahore Rod Mill"})
			if err != nil {
				t.Fatalf("create factory: %v", err)
			}
			sku, _, err := svc.CreateSKU(ctx, session, domain.SKU{
				Base:        domain.Base{FactoryID: factory.ID},
				Code:        "CU-ROD-8",
				Description: "8mm rod",
				CopperGrade: "C11000",
				GaugeMM:     8,
			})
			if err != nil {
				t.Fatalf("create sku: %v", err)
			}
			updated, _, err := svc.UpdateSKU(ctx, session, sku.ID, sku.Version, map[string]any{"description": "8 mm rod"})
			if err != nil {
				t.Fatalf("update sku: %v", err)
			}
			if updated.Version != sku.Version+1 {
				t.Fatalf("expected version %d after update, got %d", sku.Version+1, updated.Version)
			}
			// Ensure the mutation is visible through the store view.
			if got, ok := store.GetSKU(sku.ID); !ok || got.Description != "8 mm rod" {
				t.Fatalf("expected updated sku persisted, got %+v ok=%v", got, ok)
			}

			// Every chain the two writes produced must verify clean.
			results, err := svc.VerifyChain(ctx, session, domain.EntitySKU, sku.ID)
			if err != nil {
				t.Fatalf("verify chain: %v", err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 chain records, got %d", len(results))
			}
			for _, res := range results {
				if !res.OK {
					t.Fatalf("unexpected chain break at position %d: %+v", res.Position, res)
				}
			}
			report, err := svc.VerifyAudit(ctx)
			if err != nil {
				t.Fatalf("verify audit: %v", err)
			}
			if !report.OK() || report.Chains != 2 {
				t.Fatalf("expected clean report over 2 chains, got %+v", report)
			}

			// Seal and immediately re-verify a checkpoint for today.
			day := time.Now().UTC().Format("2006-01-02")
			sealed, err := svc.RunCheckpoint(ctx, day)
			if err != nil {
				t.Fatalf("run checkpoint: %v", err)
			}
			if sealed.Meta.Count != 2 {
				t.Fatalf("expected 2 chains digested, got %d", sealed.Meta.Count)
			}
			cpReport, err := svc.VerifyCheckpoint(ctx, day)
			if err != nil {
				t.Fatalf("verify checkpoint: %v", err)
			}
			if !cpReport.OK() {
				t.Fatalf("expected checkpoint to match, got %+v", cpReport.Violations)
			}

			// Validate observability exporters captured the operations.
			snapshot := metricsRecorder.Snapshot()
			if len(snapshot.DurationsMS) == 0 {
				t.Fatalf("expected metrics durations for operations, got empty")
			}
			if snapshot.Results["create_factory"]["success"] == 0 {
				t.Fatalf("expected create_factory success metric recorded: %+v", snapshot.Results)
			}
			if traceBuffer.Len() == 0 {
				t.Fatalf("expected trace exporter to emit spans")
			}
			var foundSpan bool
			for _, entry := range tracer.Entries() {
				if entry.Operation == "create_factory" && entry.Status == "success" {
					foundSpan = true
					break
				}
			}
			if !foundSpan {
				t.Fatalf("expected trace entry for create_factory, entries=%+v", tracer.Entries())
			}
		})
	}

	// Seal one real checkpoint to feed the archiver through each blob driver.
	seedStore := memory.NewStore(core.NewDefaultRulesEngine())
	seedSvc := core.NewService(seedStore)
	factory, _, err := seedSvc.CreateFactory(ctx, session, domain.Factory{Code: "KHI", Name: "Karachi Drawing Line"})
	if err != nil {
		t.Fatalf("seed factory: %v", err)
	}
	if _, _, err := seedSvc.CreateSKU(ctx, session, domain.SKU{
		Base:        domain.Base{FactoryID: factory.ID},
		Code:        "CU-WIRE-2",
		Description: "2mm wire",
		CopperGrade: "C10100",
		GaugeMM:     2,
	}); err != nil {
		t.Fatalf("seed sku: %v", err)
	}
	sealed, err := seedSvc.RunCheckpoint(ctx, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	for _, bv := range blobVariants {
		t.Run(bv.name, func(t *testing.T) {
			archiver := blob.NewArchiver(bv.open(t), "")
			if err := archiver.ArchiveCheckpoint(ctx, sealed); err != nil {
				t.Fatalf("archive checkpoint: %v", err)
			}
			fetched, err := archiver.FetchCheckpoint(ctx, sealed.Day)
			if err != nil {
				t.Fatalf("fetch checkpoint: %v", err)
			}
			if fetched.ID != sealed.ID || fetched.HeadHash != sealed.HeadHash {
				t.Fatalf("archived checkpoint mismatch: got %+v want %+v", fetched, sealed)
			}
			// Re-archiving the same checkpoint is a no-op.
			if err := archiver.ArchiveCheckpoint(ctx, sealed); err != nil {
				t.Fatalf("re-archive checkpoint: %v", err)
			}
			days, err := archiver.ArchivedDays(ctx)
			if err != nil {
				t.Fatalf("archived days: %v", err)
			}
			if len(days) != 1 || days[0] != sealed.Day {
				t.Fatalf("expected archived day %q, got %v", sealed.Day, days)
			}
		})
	}
}
