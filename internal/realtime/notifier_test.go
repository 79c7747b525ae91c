package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/i2kashif/CopperCore-sub002/internal/core"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

func TestNotifierStampsAndPublishesOnFlush(t *testing.T) {
	hub := NewHub()
	ts := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	notifier := NewNotifier(hub, WithNowFunc(func() time.Time { return ts }))

	sub := hub.Subscribe(DocChannel(domain.EntitySKU, "sku-1"))
	notifier.PublishChanges(context.Background(), []domain.Change{{
		Entity:    domain.EntitySKU,
		Action:    domain.ActionCreate,
		EntityID:  "sku-1",
		FactoryID: "fac-1",
		Version:   1,
	}})

	select {
	case batch := <-sub.Events():
		t.Fatalf("batch escaped before the window closed: %+v", batch)
	default:
	}

	notifier.Flush()
	batch := receiveBatch(t, sub)
	if len(batch) != 1 {
		t.Fatalf("expected one event, got %+v", batch)
	}
	if !batch[0].Timestamp.Equal(ts) {
		t.Fatalf("expected stamped timestamp %v, got %v", ts, batch[0].Timestamp)
	}
}

func TestNotifierCoalescesAcrossPublishes(t *testing.T) {
	hub := NewHub()
	notifier := NewNotifier(hub)
	sub := hub.Subscribe(DocChannel(domain.EntityWorkOrder, "wo-1"))

	for version := 1; version <= 5; version++ {
		notifier.PublishChanges(context.Background(), []domain.Change{{
			Entity:    domain.EntityWorkOrder,
			Action:    domain.ActionUpdate,
			EntityID:  "wo-1",
			FactoryID: "fac-1",
			Version:   version,
		}})
	}
	notifier.Flush()

	batch := receiveBatch(t, sub)
	if len(batch) != 1 {
		t.Fatalf("five updates inside one window must coalesce to one event, got %+v", batch)
	}
	if batch[0].Version != 5 {
		t.Fatalf("expected the highest version to survive, got %+v", batch[0])
	}
}

func TestNotifierEmptyChangesAreIgnored(t *testing.T) {
	hub := NewHub()
	notifier := NewNotifier(hub)
	sub := hub.Subscribe(FactoryChannel("fac-1"))

	notifier.PublishChanges(context.Background(), nil)
	notifier.Flush()

	select {
	case batch := <-sub.Events():
		t.Fatalf("empty publish delivered %+v", batch)
	default:
	}
}

func TestNotifierMetricsCountCoalescing(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	hub := NewHub()
	notifier := NewNotifier(hub, WithMetrics(metrics))

	for version := 1; version <= 3; version++ {
		notifier.PublishChanges(context.Background(), []domain.Change{{
			Entity:    domain.EntitySKU,
			Action:    domain.ActionUpdate,
			EntityID:  "sku-1",
			FactoryID: "fac-1",
			Version:   version,
		}})
	}
	notifier.Close()

	if got := testutil.ToFloat64(metrics.received); got != 3 {
		t.Fatalf("expected 3 received events, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.published); got != 1 {
		t.Fatalf("expected 1 published event after coalescing, got %v", got)
	}
}

func TestNotifierDeliversCommittedServiceChanges(t *testing.T) {
	hub := NewHub()
	notifier := NewNotifier(hub)
	svc := core.NewInMemoryService(nil, core.WithChangeNotifier(notifier))
	ctx := context.Background()
	session := domain.NewSession(domain.Principal{Subject: "root", Role: domain.RoleAdmin, Global: true}, domain.Actor{})

	factory, _, err := svc.CreateFactory(ctx, session, domain.Factory{Code: "LHR", Name: "Lahore"})
	if err != nil {
		t.Fatalf("create factory: %v", err)
	}
	list := hub.Subscribe(ListChannel(domain.EntitySKU, factory.ID))

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
	notifier.Flush()

	batch := receiveBatch(t, list)
	if len(batch) != 1 {
		t.Fatalf("expected the sku create event, got %+v", batch)
	}
	event := batch[0]
	if event.Type != domain.EntitySKU || event.ID != sku.ID || event.Action != domain.ActionCreate || event.Version != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCreateBurstCostsOneListRefetch(t *testing.T) {
	hub := NewHub()
	notifier := NewNotifier(hub)
	sub := hub.Subscribe(ListChannel(domain.EntityWorkOrder, "fac-1"))

	cache := NewViewCache()
	cache.WatchList(ListKey{Type: domain.EntityWorkOrder, FactoryID: "fac-1"})

	for i := 0; i < 10; i++ {
		notifier.PublishChanges(context.Background(), []domain.Change{{
			Entity:    domain.EntityWorkOrder,
			Action:    domain.ActionCreate,
			EntityID:  fmt.Sprintf("wo-%d", i),
			FactoryID: "fac-1",
			Version:   1,
		}})
	}
	notifier.Flush()

	batch := receiveBatch(t, sub)
	if len(batch) != 10 {
		t.Fatalf("expected all ten creates in one batch, got %d", len(batch))
	}
	res := cache.Apply(batch)
	if res.ListInvalidations != 1 {
		t.Fatalf("a create burst must invalidate the list head once, got %d", res.ListInvalidations)
	}
	if gen := cache.ListGeneration(ListKey{Type: domain.EntityWorkOrder, FactoryID: "fac-1"}); gen != 1 {
		t.Fatalf("expected list generation 1, got %d", gen)
	}
}
