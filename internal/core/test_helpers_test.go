package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// strPtr is a lightweight helper for pointer fields in core package tests.
func strPtr(v string) *string {
	return &v
}

func adminSession() domain.Session {
	return domain.NewSession(domain.Principal{Subject: "root", Role: domain.RoleAdmin, Global: true}, domain.Actor{IP: "127.0.0.1", UserAgent: "core-test"})
}

func managerSession(factoryIDs ...string) domain.Session {
	return domain.NewSession(domain.Principal{Subject: "manager", Role: domain.RoleManager, FactoryIDs: factoryIDs}, domain.Actor{})
}

func operatorSession(factoryIDs ...string) domain.Session {
	return domain.NewSession(domain.Principal{Subject: "operator", Role: domain.RoleOperator, FactoryIDs: factoryIDs}, domain.Actor{})
}

func viewerSession(factoryIDs ...string) domain.Session {
	return domain.NewSession(domain.Principal{Subject: "viewer", Role: domain.RoleViewer, FactoryIDs: factoryIDs}, domain.Actor{})
}

func seedFactory(t *testing.T, svc *Service, code string) domain.Factory {
	t.Helper()
	factory, _, err := svc.CreateFactory(context.Background(), adminSession(), domain.Factory{Code: code, Name: "Factory " + code})
	if err != nil {
		t.Fatalf("seed factory %s: %v", code, err)
	}
	return factory
}

func seedSKU(t *testing.T, svc *Service, factoryID, code string) domain.SKU {
	t.Helper()
	sku, _, err := svc.CreateSKU(context.Background(), adminSession(), domain.SKU{
		Base:        domain.Base{FactoryID: factoryID},
		Code:        code,
		Description: "8mm rod",
		CopperGrade: "C11000",
		GaugeMM:     8,
	})
	if err != nil {
		t.Fatalf("seed sku %s: %v", code, err)
	}
	return sku
}

func seedWorkOrder(t *testing.T, svc *Service, factoryID, skuID string) domain.WorkOrder {
	t.Helper()
	order, _, err := svc.CreateWorkOrder(context.Background(), adminSession(), domain.WorkOrder{
		Base:     domain.Base{FactoryID: factoryID},
		SKUID:    skuID,
		Quantity: 100,
	})
	if err != nil {
		t.Fatalf("seed work order: %v", err)
	}
	return order
}

// decodePayload unmarshals an audit payload into T for assertions.
func decodePayload[T any](t *testing.T, payload domain.ChangePayload) T {
	t.Helper()
	var out T
	if !payload.Defined() {
		t.Fatalf("expected defined payload")
	}
	if err := json.Unmarshal(payload.Raw(), &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}
