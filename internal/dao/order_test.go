package dao

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/models"
)

func testOrder(username, assetID string) models.Order {
	return models.Order{
		Username:    username,
		OrderType:   models.OrderTypeMarketBuy,
		Status:      models.OrderCompleted,
		AssetID:     assetID,
		Quantity:    decimal.NewFromFloat(0.5),
		Price:       decimal.NewFromInt(100),
		TotalAmount: decimal.NewFromInt(50),
	}
}

func TestOrderCreateAndGet(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	created, err := d.orders.Create(ctx, testOrder("alice", "BTC"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.OrderID == "" {
		t.Fatalf("Expected a generated order id")
	}

	got, err := d.orders.Get(ctx, created.OrderID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "alice" || got.AssetID != "BTC" {
		t.Errorf("Expected alice/BTC, got %s/%s", got.Username, got.AssetID)
	}
	if !got.Quantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("Expected quantity 0.5, got %s", got.Quantity.String())
	}

	raw, err := d.store.Get(ctx, "orders", created.OrderID, models.SkOrder)
	if err != nil {
		t.Fatalf("Raw Get failed: %v", err)
	}
	if sortAttr := raw.StringAttr("created_sort"); sortAttr != ledgerSk(created.CreatedAt) {
		t.Errorf("Expected fixed-width created_sort %q, got %q", ledgerSk(created.CreatedAt), sortAttr)
	}
}

func TestOrderCreateValidation(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	order := testOrder("", "BTC")
	if _, err := d.orders.Create(ctx, order); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for missing username, got %v", err)
	}

	order = testOrder("bob", "BTC")
	order.Quantity = decimal.Zero
	if _, err := d.orders.Create(ctx, order); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for zero quantity, got %v", err)
	}
}

func TestOrderListByUser(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	for _, assetID := range []string{"BTC", "ETH", "BTC"} {
		if _, err := d.orders.Create(ctx, testOrder("carol", assetID)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := d.orders.Create(ctx, testOrder("dave", "BTC")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	orders, err := d.orders.ListByUser(ctx, "carol", 10, 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("Expected 3 orders, got %d", len(orders))
	}
	for _, o := range orders {
		if o.Username != "carol" {
			t.Errorf("Expected only carol's orders, got %s", o.Username)
		}
	}

	btcOnly, err := d.orders.ListByUserAndAsset(ctx, "carol", "BTC", 10, 0)
	if err != nil {
		t.Fatalf("ListByUserAndAsset failed: %v", err)
	}
	if len(btcOnly) != 2 {
		t.Fatalf("Expected 2 BTC orders, got %d", len(btcOnly))
	}

	page, err := d.orders.ListByUser(ctx, "carol", 2, 2)
	if err != nil {
		t.Fatalf("ListByUser with offset failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("Expected 1 order on the last page, got %d", len(page))
	}
}

func TestOrderListNewestFirstAtSecondBoundary(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	// An exact-second created_at serializes with no fraction, which sorts
	// after a later fractional timestamp as a raw string. The fixed-width
	// sort attribute must keep the listing chronological regardless.
	early := time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC)
	late := time.Date(2025, 3, 1, 12, 0, 5, 500_000_000, time.UTC)

	for id, ts := range map[string]time.Time{"boundary-early": early, "boundary-late": late} {
		order := testOrder("frank", "BTC")
		order.OrderID = id
		order.CreatedAt = ts
		order.UpdatedAt = ts
		item, err := kvstore.MarshalItem(order)
		if err != nil {
			t.Fatalf("MarshalItem failed: %v", err)
		}
		item["created_sort"] = ledgerSk(ts)
		if err := d.store.Put(ctx, "orders", order.OrderID, models.SkOrder, item, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	orders, err := d.orders.ListByUser(ctx, "frank", 10, 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("Expected 2 orders, got %d", len(orders))
	}
	if orders[0].OrderID != "boundary-late" || orders[1].OrderID != "boundary-early" {
		t.Errorf("Expected boundary-late then boundary-early, got %s then %s",
			orders[0].OrderID, orders[1].OrderID)
	}
}

func TestOrderUpdateStatus(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	order := testOrder("erin", "BTC")
	order.Status = models.OrderPending
	created, err := d.orders.Create(ctx, order)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := d.orders.UpdateStatus(ctx, created.OrderID, models.OrderFailed, "payment leg failed")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != models.OrderFailed {
		t.Errorf("Expected FAILED, got %s", updated.Status)
	}
	if updated.StatusReason != "payment leg failed" {
		t.Errorf("Expected status reason recorded, got %q", updated.StatusReason)
	}

	_, err = d.orders.UpdateStatus(ctx, "no-such-order", models.OrderFailed, "")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
