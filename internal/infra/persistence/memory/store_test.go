package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

func testSession() domain.Session {
	return domain.NewSession(domain.Principal{Subject: "tester", Role: domain.RoleAdmin, Global: true}, domain.Actor{IP: "127.0.0.1", UserAgent: "store-test"})
}

func seedFactory(t *testing.T, store *Store, code string) Factory {
	t.Helper()
	var factory Factory
	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		created, err := tx.CreateFactory(Factory{Code: code, Name: "Factory " + code})
		if err != nil {
			return err
		}
		factory = created
		return nil
	})
	if err != nil {
		t.Fatalf("seed factory: %v", err)
	}
	return factory
}

func seedSKU(t *testing.T, store *Store, factoryID, code string) SKU {
	t.Helper()
	var sku SKU
	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		created, err := tx.CreateSKU(SKU{Base: domain.Base{FactoryID: factoryID}, Code: code, Description: "8mm rod", CopperGrade: "C11000", GaugeMM: 8})
		if err != nil {
			return err
		}
		sku = created
		return nil
	})
	if err != nil {
		t.Fatalf("seed sku: %v", err)
	}
	return sku
}

func seedWorkOrder(t *testing.T, store *Store, factoryID, skuID string) WorkOrder {
	t.Helper()
	var order WorkOrder
	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		created, err := tx.CreateWorkOrder(WorkOrder{Base: domain.Base{FactoryID: factoryID}, SKUID: skuID, Quantity: 100})
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		t.Fatalf("seed work order: %v", err)
	}
	return order
}

func TestCreateEstablishesVersionOne(t *testing.T) {
	store := NewStore(nil)
	factory := seedFactory(t, store, "LHR")

	if factory.Version != 1 {
		t.Fatalf("expected version 1 on create, got %d", factory.Version)
	}
	if factory.FactoryID != factory.ID {
		t.Fatalf("expected factory scoped to itself, got %q", factory.FactoryID)
	}
	if factory.Status != domain.FactoryStatusActive {
		t.Fatalf("expected default active status, got %q", factory.Status)
	}

	sku := seedSKU(t, store, factory.ID, "CU-ROD-8")
	if sku.Version != 1 {
		t.Fatalf("expected version 1 on create, got %d", sku.Version)
	}

	order := seedWorkOrder(t, store, factory.ID, sku.ID)
	if order.Version != 1 {
		t.Fatalf("expected version 1 on create, got %d", order.Version)
	}
	if order.Status != domain.WorkOrderStatusDraft {
		t.Fatalf("expected draft status on create, got %q", order.Status)
	}
}

func TestUpdateIncrementsVersionByOne(t *testing.T) {
	store := NewStore(nil)
	factory := seedFactory(t, store, "LHR")
	sku := seedSKU(t, store, factory.ID, "CU-ROD-8")

	var updated SKU
	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateSKU(sku.ID, 1, func(s *SKU) error {
			s.Description = "8mm bright rod"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update sku: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after first update, got %d", updated.Version)
	}

	stored, ok := store.GetSKU(sku.ID)
	if !ok {
		t.Fatal("expected sku to persist")
	}
	if stored.Description != "8mm bright rod" {
		t.Fatalf("expected updated description, got %q", stored.Description)
	}
}

func TestStaleVersionConflictLeavesNoTrace(t *testing.T) {
	store := NewStore(nil)
	factory := seedFactory(t, store, "LHR")
	sku := seedSKU(t, store, factory.ID, "CU-ROD-8")
	recordsBefore := len(store.AuditHistory(domain.EntitySKU, sku.ID))

	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		_, err := tx.UpdateSKU(sku.ID, 7, func(s *SKU) error {
			s.Description = "never applied"
			return nil
		})
		return err
	})
	var conflict domain.OptimisticLockConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected optimistic lock conflict, got %v", err)
	}
	if conflict.Current != 1 || conflict.Attempted != 7 {
		t.Fatalf("unexpected conflict payload: %+v", conflict)
	}

	stored, _ := store.GetSKU(sku.ID)
	if stored.Version != 1 || stored.Description != "8mm rod" {
		t.Fatalf("conflict must not change state, got %+v", stored)
	}
	if got := len(store.AuditHistory(domain.EntitySKU, sku.ID)); got != recordsBefore {
		t.Fatalf("conflict must not append audit records, got %d want %d", got, recordsBefore)
	}
}

func TestFailedTransactionRollsBackAllSteps(t *testing.T) {
	store := NewStore(nil)
	factory := seedFactory(t, store, "LHR")
	sku := seedSKU(t, store, factory.ID, "CU-ROD-8")

	_, err := store.RunInTransaction(context.Background(), testSession(), func(tx Transaction) error {
		if _, err := tx.UpdateSKU(sku.ID, 1, func(s *SKU) error {
			s.Description = "changed"
			return nil
		}); err != nil {
			return err
		}
		// Second mutation fails; the earlier update must not survive.
		_, err := tx.UpdateSKU("missing", 1, func(s *SKU) error { return nil })
		return err
	})
	if err == nil {
		t.Fatal("expected transaction failure")
	}

	stored, _ := store.GetSKU(sku.ID)
	if stored.Version != 1 || stored.Description != "8mm rod" {
		t.Fatalf("expected rollback of partial work, got %+v", stored)
	}
	if got := len(store.AuditHistory(domain.EntitySKU, sku.ID)); got != 1 {
		t.Fatalf("expected only the create record, got %d", got)
	}
}

func TestExportImportStateRoundTrip(t *testing.T) {
	store := NewStore(nil)
	factory := seedFactory(t, store, "LHR")
	sku := seedSKU(t, store, factory.ID, "CU-ROD-8")
	seedWorkOrder(t, store, factory.ID, sku.ID)

	snapshot := store.ExportState()

	restored := NewStore(nil)
	restored.ImportState(snapshot)

	if got := len(restored.ListFactories()); got != 1 {
		t.Fatalf("expected 1 factory, got %d", got)
	}
	if got := len(restored.ListSKUs()); got != 1 {
		t.Fatalf("expected 1 sku, got %d", got)
	}
	if got := len(restored.ListWorkOrders()); got != 1 {
		t.Fatalf("expected 1 work order, got %d", got)
	}
}

func TestImportStateDropsOrphans(t *testing.T) {
	store := NewStore(nil)
	snapshot := Snapshot{
		Factories: map[string]Factory{
			"f1": {Base: domain.Base{ID: "f1"}, Code: "LHR", Name: "Lahore"},
		},
		Users: map[string]User{
			"u1": {Base: domain.Base{ID: "u1", FactoryID: "f1"}, Email: "a@x.pk", Role: domain.RoleViewer},
			"u2": {Base: domain.Base{ID: "u2", FactoryID: "gone"}, Email: "b@x.pk", Role: domain.RoleViewer},
		},
		SKUs: map[string]SKU{
			"s1": {Base: domain.Base{ID: "s1", FactoryID: "f1"}, Code: "CU-1", CopperGrade: "C11000", GaugeMM: 8},
		},
		WorkOrders: map[string]WorkOrder{
			"w1": {Base: domain.Base{ID: "w1", FactoryID: "f1"}, SKUID: "s1", Quantity: 10},
			"w2": {Base: domain.Base{ID: "w2", FactoryID: "f1"}, SKUID: "missing", Quantity: 10},
		},
	}
	store.ImportState(snapshot)

	if _, ok := store.GetUser("u2"); ok {
		t.Fatal("expected orphaned user to be dropped")
	}
	if _, ok := store.GetWorkOrder("w2"); ok {
		t.Fatal("expected work order with missing sku to be dropped")
	}
	factory, ok := store.GetFactory("f1")
	if !ok {
		t.Fatal("expected factory to survive import")
	}
	if factory.Version != 1 {
		t.Fatalf("expected version floor of 1, got %d", factory.Version)
	}
	if factory.FactoryID != "f1" {
		t.Fatalf("expected self-scoped factory, got %q", factory.FactoryID)
	}
	order, _ := store.GetWorkOrder("w1")
	if order.Status != domain.WorkOrderStatusDraft {
		t.Fatalf("expected draft default, got %q", order.Status)
	}
}
