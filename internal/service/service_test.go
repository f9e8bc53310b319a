package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/internal/domain"
	"tillpoint/internal/store"
	"tillpoint/internal/store/memory"
	"tillpoint/internal/tax"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "owner-test-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-test-pw")
	repo := memory.NewSeeded(tax.Default())
	return New(repo, tax.Default(), nil, time.Minute), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-cashier",
		Username: "cashier",
	})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-owner",
		Username: "owner",
		Manager:  true,
	})
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func lineQuantity(t *testing.T, details domain.OrderDetails, itemID string) int64 {
	t.Helper()
	for _, line := range details.Lines {
		if line.ItemID == itemID {
			return line.Quantity
		}
	}
	t.Fatalf("no line for item %s", itemID)
	return 0
}

func TestRemoveItemFloorsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.AddItem(ctx, order.ID, "itm-cola"); err != nil {
			t.Fatalf("add item failed: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if err := svc.RemoveItem(ctx, order.ID, "itm-cola"); err != nil {
			t.Fatalf("remove item failed: %v", err)
		}
	}

	details, err := svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if got := lineQuantity(t, details, "itm-cola"); got != 0 {
		t.Fatalf("expected quantity floored at 0, got %d", got)
	}
	if !details.Subtotal.IsZero() {
		t.Fatalf("expected zero subtotal, got %s", details.Subtotal)
	}
}

func TestRemoveItemNeverAddedIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if err := svc.RemoveItem(ctx, order.ID, "itm-cola"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := svc.RemoveItem(ctx, order.ID, "itm-unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestOrderTotals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	// 3x chips at 4.00, both taxes apply
	for i := 0; i < 3; i++ {
		if err := svc.AddItem(ctx, order.ID, "itm-chips"); err != nil {
			t.Fatalf("add item failed: %v", err)
		}
	}
	// 2x apples at 0.90, tax free
	for i := 0; i < 2; i++ {
		if err := svc.AddItem(ctx, order.ID, "itm-apple"); err != nil {
			t.Fatalf("add item failed: %v", err)
		}
	}

	details, err := svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if want := mustDecimal(t, "13.80"); !details.Subtotal.Equal(want) {
		t.Fatalf("subtotal: want %s got %s", want, details.Subtotal)
	}
	if want := mustDecimal(t, "0.60"); !details.TaxA.Equal(want) {
		t.Fatalf("tax a: want %s got %s", want, details.TaxA)
	}
	if want := mustDecimal(t, "0.72"); !details.TaxB.Equal(want) {
		t.Fatalf("tax b: want %s got %s", want, details.TaxB)
	}
	if want := mustDecimal(t, "15.12"); !details.Total.Equal(want) {
		t.Fatalf("total: want %s got %s", want, details.Total)
	}
}

func TestFinalizeUnknownPaymentRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if err := svc.Finalize(ctx, order.ID, "pay-bitcoin"); !errors.Is(err, store.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment, got %v", err)
	}
	paid, err := svc.IsPaid(ctx, order.ID)
	if err != nil {
		t.Fatalf("is paid failed: %v", err)
	}
	if paid {
		t.Fatalf("order must stay open after rejected payment")
	}
}

func TestFinalizeWithCustomerIsAtomic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	err = svc.FinalizeWithCustomer(ctx, order.ID, "cust-anna", "pay-bitcoin")
	if !errors.Is(err, store.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment, got %v", err)
	}

	after, err := svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if after.Order.CustomerID != "" {
		t.Fatalf("customer attachment must not stick when payment fails")
	}
	if after.Order.PaymentTypeID != "" {
		t.Fatalf("order must stay unpaid")
	}

	if err := svc.FinalizeWithCustomer(ctx, order.ID, "cust-anna", "pay-cash"); err != nil {
		t.Fatalf("finalize with customer failed: %v", err)
	}
	after, err = svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if after.Order.CustomerID != "cust-anna" || after.Order.PaymentTypeID != "pay-cash" {
		t.Fatalf("expected customer and payment recorded, got %+v", after.Order)
	}
}

func TestReturnNetting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := svc.AddItem(ctx, order.ID, "itm-cola"); err != nil {
			t.Fatalf("add item failed: %v", err)
		}
	}
	if err := svc.Finalize(ctx, order.ID, "pay-cash"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	ret, err := svc.CreateReturn(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("create return failed: %v", err)
	}
	if ret.ReturnOf != order.ID {
		t.Fatalf("return must reference the original, got %q", ret.ReturnOf)
	}
	if err := svc.SetReturnItem(ctx, ret.ID, "itm-cola", -1); err != nil {
		t.Fatalf("set return item failed: %v", err)
	}

	// The original's own lines are untouched.
	details, err := svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if got := lineQuantity(t, details, "itm-cola"); got != 4 {
		t.Fatalf("original quantity must stay 4, got %d", got)
	}
	if !details.Order.HasReturns {
		t.Fatalf("original must flag its return")
	}

	net, err := svc.NetDetails(ctx, order.ID)
	if err != nil {
		t.Fatalf("net details failed: %v", err)
	}
	if got := lineQuantity(t, net, "itm-cola"); got != 3 {
		t.Fatalf("net quantity: want 3, got %d", got)
	}
	if want := mustDecimal(t, "7.50"); !net.Subtotal.Equal(want) {
		t.Fatalf("net subtotal: want %s got %s", want, net.Subtotal)
	}
}

func TestNetDetailsWithoutReturnsMatchesDetails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if err := svc.AddItem(ctx, order.ID, "itm-coffee"); err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	details, err := svc.Details(ctx, order.ID)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	net, err := svc.NetDetails(ctx, order.ID)
	if err != nil {
		t.Fatalf("net details failed: %v", err)
	}
	if len(details.Lines) != len(net.Lines) {
		t.Fatalf("line counts differ: %d vs %d", len(details.Lines), len(net.Lines))
	}
	if !details.Total.Equal(net.Total) {
		t.Fatalf("totals differ: %s vs %s", details.Total, net.Total)
	}
}

func TestReturnOfReturnRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	ret, err := svc.CreateReturn(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("create return failed: %v", err)
	}
	if _, err := svc.CreateReturn(ctx, ret.ID, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for return-of-return, got %v", err)
	}
}

func TestSetReturnItemValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	ret, err := svc.CreateReturn(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("create return failed: %v", err)
	}

	if err := svc.SetReturnItem(ctx, ret.ID, "itm-cola", 2); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity for positive return line, got %v", err)
	}
	if err := svc.SetReturnItem(ctx, order.ID, "itm-cola", -1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-return target, got %v", err)
	}
}

func TestNetDetailsOnReturnRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if err := svc.AddItem(ctx, order.ID, "itm-cola"); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	ret, err := svc.CreateReturn(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("create return failed: %v", err)
	}
	if err := svc.SetReturnItem(ctx, ret.ID, "itm-cola", -1); err != nil {
		t.Fatalf("set return item failed: %v", err)
	}

	// Only original orders are netting roots.
	if _, err := svc.NetDetails(ctx, ret.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound netting a return order, got %v", err)
	}
	if _, err := svc.NetDetails(ctx, order.ID); err != nil {
		t.Fatalf("netting the original failed: %v", err)
	}
}

func TestNewOrderWithCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "cust-anna")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if order.CustomerID != "cust-anna" {
		t.Fatalf("customer id = %q, want cust-anna", order.CustomerID)
	}
}

func TestNewOrderUnknownCustomerLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.NewOrder(cashierCtx(), "cust-nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}

	// The failed creation must not leave a committed order behind.
	today := time.Now().UTC().Format("2006-01-02")
	logs, err := svc.ListAuditLogs(managerCtx(), today, today, 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	for _, entry := range logs {
		if entry.Action == "order_create" {
			t.Fatalf("found order_create audit entry after failed creation: %+v", entry)
		}
	}
}

func TestCreateReturnCustomerOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "cust-anna")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}

	ret, err := svc.CreateReturn(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("create return failed: %v", err)
	}
	if ret.CustomerID != "cust-anna" {
		t.Fatalf("default return customer = %q, want cust-anna", ret.CustomerID)
	}

	override, err := svc.CreateReturn(ctx, order.ID, "cust-marcus")
	if err != nil {
		t.Fatalf("create return with override failed: %v", err)
	}
	if override.CustomerID != "cust-marcus" {
		t.Fatalf("override return customer = %q, want cust-marcus", override.CustomerID)
	}
}

func TestCreateUserNormalizesUsername(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := managerCtx()

	if err := svc.CreateUser(ctx, "  Bob  ", "bobs-password", false); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	user, err := repo.GetUserByUsername(context.Background(), "bob")
	if err != nil {
		t.Fatalf("lookup by lowercase username failed: %v", err)
	}
	if user.Username != "bob" {
		t.Fatalf("stored username = %q, want bob", user.Username)
	}

	// Manager resets target the same way regardless of the case supplied.
	if err := svc.ChangePassword(ctx, "BOB", "", "bobs-new-password"); err != nil {
		t.Fatalf("manager password reset failed: %v", err)
	}
}

func TestCountReconciliation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	t0 := time.Date(2030, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := time.Date(2030, 3, 2, 11, 0, 0, 0, time.UTC)
	t2 := time.Date(2030, 3, 3, 16, 0, 0, 0, time.UTC)
	t3 := time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

	count1, err := repo.CreateCount(ctx, domain.InventoryCount{CreatedAt: t0})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	if err := repo.SetCountItem(ctx, count1.ID, "itm-cola", 10); err != nil {
		t.Fatalf("set count item failed: %v", err)
	}

	// An order recorded exactly at the first count belongs to that count's
	// window, not the next one.
	boundary, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: t0})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, boundary.ID, "itm-cola", 100); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}

	sale, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: t1})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, sale.ID, "itm-cola", 5); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}

	adj, err := repo.CreateAdjustment(ctx, domain.StockAdjustment{Reason: "breakage", CreatedAt: t2})
	if err != nil {
		t.Fatalf("create adjustment failed: %v", err)
	}
	if err := repo.SetAdjustmentItem(ctx, adj.ID, "itm-cola", -2); err != nil {
		t.Fatalf("set adjustment item failed: %v", err)
	}

	count2, err := repo.CreateCount(ctx, domain.InventoryCount{CreatedAt: t3})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	if err := repo.SetCountItem(ctx, count2.ID, "itm-cola", 20); err != nil {
		t.Fatalf("set count item failed: %v", err)
	}

	mgr := managerCtx()
	window, err := svc.CountWindow(mgr, count2.ID)
	if err != nil {
		t.Fatalf("count window failed: %v", err)
	}
	if window.From == nil || !window.From.Equal(t0) {
		t.Fatalf("window from: want %v got %v", t0, window.From)
	}
	if !window.To.Equal(t3) {
		t.Fatalf("window to: want %v got %v", t3, window.To)
	}

	records, err := svc.CountDetails(mgr, count2.ID)
	if err != nil {
		t.Fatalf("count details failed: %v", err)
	}
	var cola *domain.CountDetailsRecord
	for i := range records {
		if records[i].ItemID == "itm-cola" {
			cola = &records[i]
		}
		// Every record honors the reconciliation identity.
		if got := records[i].TheoreticalQuantity - records[i].Difference; got != records[i].ActualQuantity {
			t.Fatalf("identity broken for %s: theoretical=%d difference=%d actual=%d",
				records[i].ItemID, records[i].TheoreticalQuantity, records[i].Difference, records[i].ActualQuantity)
		}
	}
	if cola == nil {
		t.Fatalf("no record for itm-cola")
	}
	if cola.PreviousQuantity != 10 || cola.QuantitySold != 5 || cola.AdjustmentQuantity != -2 {
		t.Fatalf("unexpected window sums: %+v", cola)
	}
	if cola.TheoreticalQuantity != 3 {
		t.Fatalf("theoretical: want 3 got %d", cola.TheoreticalQuantity)
	}
	if cola.Difference != -17 {
		t.Fatalf("difference: want -17 got %d", cola.Difference)
	}

	// CountDetails is a pure read: asking twice yields the same rows.
	again, err := svc.CountDetails(mgr, count2.ID)
	if err != nil {
		t.Fatalf("count details failed: %v", err)
	}
	if len(again) != len(records) {
		t.Fatalf("record count changed between reads: %d vs %d", len(records), len(again))
	}
}

func TestFirstCountWindowIsUnbounded(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	count, err := repo.CreateCount(ctx, domain.InventoryCount{})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	window, err := svc.CountWindow(managerCtx(), count.ID)
	if err != nil {
		t.Fatalf("count window failed: %v", err)
	}
	if window.From != nil {
		t.Fatalf("first count must have no lower bound, got %v", window.From)
	}
}

func TestZeroFilledCountDetails(t *testing.T) {
	svc, repo := newTestService(t)

	count, err := repo.CreateCount(context.Background(), domain.InventoryCount{})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	records, err := svc.CountDetails(managerCtx(), count.ID)
	if err != nil {
		t.Fatalf("count details failed: %v", err)
	}
	items, err := repo.ListItems(context.Background())
	if err != nil {
		t.Fatalf("list items failed: %v", err)
	}
	if len(records) != len(items) {
		t.Fatalf("every master item must appear: want %d rows got %d", len(items), len(records))
	}
	for _, r := range records {
		if r.QuantitySold != 0 || r.ActualQuantity != 0 || r.Difference != 0 {
			t.Fatalf("expected zero-filled row, got %+v", r)
		}
	}
}

func TestSetCountItemNegativeRejected(t *testing.T) {
	svc, repo := newTestService(t)

	count, err := repo.CreateCount(context.Background(), domain.InventoryCount{})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	if err := svc.SetCountItem(managerCtx(), count.ID, "itm-cola", -3); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestLiveInventory(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	countAt := time.Date(2030, 5, 10, 7, 0, 0, 0, time.UTC)
	now := time.Date(2030, 5, 12, 15, 0, 0, 0, time.UTC)

	count, err := repo.CreateCount(ctx, domain.InventoryCount{CreatedAt: countAt})
	if err != nil {
		t.Fatalf("create count failed: %v", err)
	}
	if err := repo.SetCountItem(ctx, count.ID, "itm-bread", 30); err != nil {
		t.Fatalf("set count item failed: %v", err)
	}

	// Sale today, inside the window.
	today, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, today.ID, "itm-bread", 4); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}
	// Sale earlier in the month, before the count, so outside the window.
	earlier, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: countAt.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, earlier.ID, "itm-bread", 6); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}

	records, err := repo.LiveInventory(ctx, now)
	if err != nil {
		t.Fatalf("live inventory failed: %v", err)
	}
	var bread *domain.LiveInventoryRecord
	for i := range records {
		if records[i].ItemID == "itm-bread" {
			bread = &records[i]
		}
	}
	if bread == nil {
		t.Fatalf("no record for itm-bread")
	}
	if bread.CountQuantity != 30 {
		t.Fatalf("count quantity: want 30 got %d", bread.CountQuantity)
	}
	if bread.QuantitySold != 4 {
		t.Fatalf("window sold: want 4 got %d", bread.QuantitySold)
	}
	if bread.DayQuantity != 4 {
		t.Fatalf("day quantity: want 4 got %d", bread.DayQuantity)
	}
	if bread.MonthQuantity != 10 {
		t.Fatalf("month quantity: want 10 got %d", bread.MonthQuantity)
	}
	if bread.TheoreticalQuantity != 26 {
		t.Fatalf("theoretical: want 26 got %d", bread.TheoreticalQuantity)
	}
}

func TestUnpaidOrdersExcludedFromReports(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	paidAt := time.Date(2030, 1, 15, 9, 30, 0, 0, time.UTC)
	openAt := time.Date(2030, 1, 15, 14, 0, 0, 0, time.UTC)

	paid, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: paidAt})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, paid.ID, "itm-cola", 2); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}
	if err := repo.FinalizeOrder(ctx, paid.ID, "pay-cash"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	open, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: openAt})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, open.ID, "itm-chips", 1); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}

	buckets, err := svc.HourlyReport(managerCtx(), "2030-01-15", "2030-01-15")
	if err != nil {
		t.Fatalf("hourly report failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected one bucket, got %d: %+v", len(buckets), buckets)
	}
	if buckets[0].Hour != 9 {
		t.Fatalf("expected hour 9, got %d", buckets[0].Hour)
	}
	if buckets[0].NumOrders != 1 || buckets[0].NumItems != 2 {
		t.Fatalf("unexpected bucket: %+v", buckets[0])
	}
	if want := mustDecimal(t, "5.00"); !buckets[0].Subtotal.Equal(want) {
		t.Fatalf("subtotal: want %s got %s", want, buckets[0].Subtotal)
	}
}

func TestDailyReportRange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	days := []time.Time{
		time.Date(2030, 2, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2030, 2, 2, 10, 0, 0, 0, time.UTC),
		// Outside [from, to]: must be excluded.
		time.Date(2030, 2, 3, 0, 0, 0, 0, time.UTC),
	}
	for _, at := range days {
		order, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: at})
		if err != nil {
			t.Fatalf("create order failed: %v", err)
		}
		if err := repo.SetOrderItem(ctx, order.ID, "itm-banana", 1); err != nil {
			t.Fatalf("set order item failed: %v", err)
		}
		if err := repo.FinalizeOrder(ctx, order.ID, "pay-debit"); err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
	}

	report, err := svc.DailyReport(managerCtx(), "2030-02-01", "2030-02-02")
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 days, got %d: %+v", len(report), report)
	}
	if report[0].Day != "2030-02-01" || report[1].Day != "2030-02-02" {
		t.Fatalf("unexpected day order: %+v", report)
	}
}

func TestCashierAndItemReports(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	at := time.Date(2030, 4, 20, 12, 0, 0, 0, time.UTC)
	order, err := repo.CreateOrder(ctx, domain.Order{UserID: "usr-cashier", CreatedAt: at})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := repo.SetOrderItem(ctx, order.ID, "itm-cola", 2); err != nil {
		t.Fatalf("set order item failed: %v", err)
	}
	if err := repo.FinalizeOrder(ctx, order.ID, "pay-cash"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	cashiers, err := svc.CashierReport(managerCtx(), "2030-04-20", "2030-04-20")
	if err != nil {
		t.Fatalf("cashier report failed: %v", err)
	}
	if len(cashiers) != 1 {
		t.Fatalf("expected one cashier row, got %d", len(cashiers))
	}
	if cashiers[0].Username != "cashier" || cashiers[0].PaymentType != "Cash" {
		t.Fatalf("unexpected cashier row: %+v", cashiers[0])
	}

	items, err := svc.ItemReport(managerCtx(), "2030-04-20", "2030-04-20")
	if err != nil {
		t.Fatalf("item report failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item row, got %d", len(items))
	}
	if items[0].ItemID != "itm-cola" || items[0].Quantity != 2 {
		t.Fatalf("unexpected item row: %+v", items[0])
	}
	if want := mustDecimal(t, "0.25"); !items[0].TaxA.Equal(want) {
		t.Fatalf("item tax a: want %s got %s", want, items[0].TaxA)
	}
}

func TestReportsRequireManager(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.HourlyReport(cashierCtx(), "2030-01-01", "2030-01-02"); !errors.Is(err, ErrManagerRequired) {
		t.Fatalf("expected ErrManagerRequired, got %v", err)
	}
	if _, err := svc.CountDetails(cashierCtx(), "cnt-x"); !errors.Is(err, ErrManagerRequired) {
		t.Fatalf("expected ErrManagerRequired, got %v", err)
	}
}

func TestReportInvalidRange(t *testing.T) {
	svc, _ := newTestService(t)
	mgr := managerCtx()

	if _, err := svc.DailyReport(mgr, "not-a-date", "2030-01-02"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := svc.DailyReport(mgr, "2030-01-05", "2030-01-02"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted range, got %v", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.data[key]
	return payload, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = payload
	c.sets++
	return nil
}

func TestReportCaching(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "owner-test-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-test-pw")
	repo := memory.NewSeeded(tax.Default())
	reports := &mapCache{}
	svc := New(repo, tax.Default(), reports, time.Minute)
	mgr := managerCtx()

	if _, err := svc.HourlyReport(mgr, "2030-06-01", "2030-06-02"); err != nil {
		t.Fatalf("hourly report failed: %v", err)
	}
	if reports.sets != 1 {
		t.Fatalf("expected one cache write, got %d", reports.sets)
	}
	if _, err := svc.HourlyReport(mgr, "2030-06-01", "2030-06-02"); err != nil {
		t.Fatalf("hourly report failed: %v", err)
	}
	if reports.sets != 1 {
		t.Fatalf("second call must hit the cache, writes=%d", reports.sets)
	}
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	err := svc.ChangePassword(ctx, "", "wrong-password", "brand-new-pass")
	if err == nil {
		t.Fatalf("expected rejection with wrong current password")
	}
	if err := svc.ChangePassword(ctx, "", "cashier-test-pw", "brand-new-pass"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	// Managers may reset other users without the current password.
	if err := svc.ChangePassword(managerCtx(), "cashier", "", "reset-by-owner"); err != nil {
		t.Fatalf("manager reset failed: %v", err)
	}
	// Cashiers may not.
	if err := svc.ChangePassword(cashierCtx(), "owner", "", "sneaky-reset1"); !errors.Is(err, ErrManagerRequired) {
		t.Fatalf("expected ErrManagerRequired, got %v", err)
	}
}

func TestMutationsRequireActor(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.NewOrder(context.Background(), ""); !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
	if _, err := svc.CreateCount(cashierCtx()); !errors.Is(err, ErrManagerRequired) {
		t.Fatalf("expected ErrManagerRequired, got %v", err)
	}
}

func TestCustomerOrderSearch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.NewOrder(ctx, "")
	if err != nil {
		t.Fatalf("new order failed: %v", err)
	}
	if err := svc.AddItem(ctx, order.ID, "itm-croissant"); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if err := svc.FinalizeWithCustomer(ctx, order.ID, "cust-anna", "pay-credit"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	results, err := svc.SearchCustomerOrders(ctx, "anna")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if results[0].OrderID != order.ID || results[0].CustomerName != "Anna Fernandez" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if results[0].PaymentType != "Credit" || results[0].Cashier != "cashier" {
		t.Fatalf("unexpected result metadata: %+v", results[0])
	}

	none, err := svc.SearchCustomerOrders(ctx, "nobody-matches")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no results, got %d", len(none))
	}
}
