package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ferrepos/internal/cache"
	"ferrepos/internal/domain"
	"ferrepos/internal/receipt"
	"ferrepos/internal/store"
	"ferrepos/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	gen := receipt.NewGenerator(receipt.StoreInfo{Name: "FERRETERIA TEST"})
	return New(repo, gen, cache.NoopReceiptCache{}, time.Hour, zap.NewNop())
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

// createProductWithStock registers a fresh product so tests control the
// exact starting stock.
func createProductWithStock(t *testing.T, svc *Service, code string, stock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Code:           code,
		Name:           "Producto " + code,
		CategoryID:     1,
		SalePriceCents: 10000,
		InitialStock:   stock,
		MinStock:       1,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func TestCommitSaleDecrementsStockAndAssignsInvoice(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-001", 10)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 3}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}

	resp, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCash, "")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("fresh commit must not be flagged duplicate")
	}
	if !strings.HasPrefix(resp.InvoiceNumber, "FAC-") {
		t.Fatalf("expected FAC- invoice number, got %q", resp.InvoiceNumber)
	}
	if resp.TotalCents != 30000 {
		t.Fatalf("expected total 30000, got %d", resp.TotalCents)
	}
	if resp.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", resp.ItemCount)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", after.Stock)
	}
}

func TestCommitSaleInsufficientStockAfterEarlierSale(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-002", 5)

	first, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 3}})
	if err != nil {
		t.Fatalf("build first cart: %v", err)
	}
	if _, err := svc.CommitSale(ctx, first, nil, domain.PaymentCash, ""); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	// Only 2 remain; staging 3 fails the advisory check with the exact
	// shortfall detail.
	_, err = svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 3}})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("expected available=2 requested=3, got available=%d requested=%d", stockErr.Available, stockErr.Requested)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 2 {
		t.Fatalf("failed sale must not move stock, got %d", after.Stock)
	}
}

func TestCommitSaleShortfallAtCommitRollsBackWholeSale(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	scarce := createProductWithStock(t, svc, "TST-003", 5)
	plenty := createProductWithStock(t, svc, "TST-004", 50)

	// Stage while stock is still 5, then drain it with another sale so
	// the commit-time re-check fails.
	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{
		{ProductID: plenty.ID, Qty: 2},
		{ProductID: scarce.ID, Qty: 3},
	})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}

	drain, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: scarce.ID, Qty: 4}})
	if err != nil {
		t.Fatalf("build drain cart: %v", err)
	}
	if _, err := svc.CommitSale(ctx, drain, nil, domain.PaymentCash, ""); err != nil {
		t.Fatalf("drain commit failed: %v", err)
	}

	_, err = svc.CommitSale(ctx, crt, nil, domain.PaymentCash, "")
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock at commit, got %v", err)
	}

	// The other line's stock must be untouched: all or nothing.
	after, err := svc.GetProduct(ctx, plenty.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 50 {
		t.Fatalf("expected stock 50 after rolled-back sale, got %d", after.Stock)
	}
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	initialStock := 5
	buyers := 12
	product := createProductWithStock(t, svc, "TST-RACE", initialStock)

	var wg sync.WaitGroup
	errs := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()
			crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 1}})
			if err != nil {
				errs <- err
				return
			}
			_, err = svc.CommitSale(ctx, crt, nil, domain.PaymentCash, fmt.Sprintf("race-%d", buyer))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("losing buyer must see ErrInsufficientStock, got %v", err)
		}
	}
	if successes != initialStock {
		t.Fatalf("expected exactly %d winning commits, got %d", initialStock, successes)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("expected stock 0 after racing commits, got %d", after.Stock)
	}
}

func TestCommitSaleEmptyCart(t *testing.T) {
	svc := newTestService()

	_, err := svc.CommitSale(context.Background(), nil, nil, domain.PaymentCash, "")
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart for nil cart, got %v", err)
	}

	crt, err := svc.BuildCart(context.Background(), nil)
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	_, err = svc.CommitSale(context.Background(), crt, nil, domain.PaymentCash, "")
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCommitSaleRejectsUnknownPaymentMethod(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-005", 5)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 1}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	_, err = svc.CommitSale(ctx, crt, nil, "cheque", "")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for payment method, got %v", err)
	}
}

func TestCommitSalePricesFrozenAtAddTime(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-006", 5)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}

	newPrice := int64(25000)
	if _, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{SalePriceCents: &newPrice}); err != nil {
		t.Fatalf("update price: %v", err)
	}

	resp, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCash, "")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if resp.TotalCents != 20000 {
		t.Fatalf("expected total at add-time price 20000, got %d", resp.TotalCents)
	}
}

func TestCommitSaleIdempotencyReplay(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-007", 10)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}

	first, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCard, "idem-replay-1")
	if err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	retry, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
	if err != nil {
		t.Fatalf("build retry cart: %v", err)
	}
	second, err := svc.CommitSale(ctx, retry, nil, domain.PaymentCard, "idem-replay-1")
	if err != nil {
		t.Fatalf("replay commit failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected replay to be flagged duplicate")
	}
	if second.SaleID != first.SaleID || second.InvoiceNumber != first.InvoiceNumber {
		t.Fatalf("replay must return the original sale")
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 8 {
		t.Fatalf("stock must be decremented once, got %d", after.Stock)
	}
}

func TestCommitSaleDoesNotClearCart(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-008", 10)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 1}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	if _, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCash, ""); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if crt.Empty() {
		t.Fatalf("commit must leave the cart for the caller to clear")
	}
	crt.Clear()
	if !crt.Empty() {
		t.Fatalf("clear failed")
	}
}

func TestCommitSaleUnknownCustomer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-009", 5)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 1}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	missing := int64(9999)
	_, err = svc.CommitSale(ctx, crt, &missing, domain.PaymentCash, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}

func TestBuildCartInactiveProduct(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-010", 5)

	inactive := false
	if _, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate product: %v", err)
	}

	_, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 1}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive product, got %v", err)
	}
}

func TestReceiptIsStableAcrossCalls(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-011", 5)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	resp, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCash, "")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	first, err := svc.Receipt(ctx, resp.SaleID)
	if err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	second, err := svc.Receipt(ctx, resp.SaleID)
	if err != nil {
		t.Fatalf("second receipt: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("receipt rendering must be byte-identical across calls")
	}
	if !strings.Contains(string(first), resp.InvoiceNumber) {
		t.Fatalf("receipt must carry the invoice number")
	}
	if !strings.Contains(string(first), "Consumidor Final") {
		t.Fatalf("walk-in receipt must show Consumidor Final")
	}
}

func TestReceiptUnknownSale(t *testing.T) {
	svc := newTestService()
	_, err := svc.Receipt(context.Background(), 404)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExportSalesCSV(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-012", 10)

	crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
	if err != nil {
		t.Fatalf("build cart: %v", err)
	}
	resp, err := svc.CommitSale(ctx, crt, nil, domain.PaymentTransfer, "")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	now := time.Now().UTC()
	payload, err := svc.ExportSalesCSV(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out := string(payload)
	if !strings.HasPrefix(out, "invoice,date,customer_id,payment_method") {
		t.Fatalf("unexpected CSV header: %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, resp.InvoiceNumber) {
		t.Fatalf("CSV must contain the sale invoice")
	}
	if !strings.Contains(out, "transfer") {
		t.Fatalf("CSV must contain the payment method")
	}
}

func TestSalesReportAggregates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := createProductWithStock(t, svc, "TST-013", 20)

	for i := 0; i < 3; i++ {
		crt, err := svc.BuildCart(ctx, []domain.SaleRequestLine{{ProductID: product.ID, Qty: 2}})
		if err != nil {
			t.Fatalf("build cart: %v", err)
		}
		if _, err := svc.CommitSale(ctx, crt, nil, domain.PaymentCash, ""); err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
	}

	now := time.Now().UTC()
	report, err := svc.SalesReport(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Sales != 3 {
		t.Fatalf("expected 3 sales, got %d", report.Sales)
	}
	if report.GrossCents != 60000 {
		t.Fatalf("expected gross 60000, got %d", report.GrossCents)
	}
	if report.AverageTicketCents != 20000 {
		t.Fatalf("expected average ticket 20000, got %d", report.AverageTicketCents)
	}
	if len(report.ByPayment) != 1 || report.ByPayment[0].PaymentMethod != domain.PaymentCash {
		t.Fatalf("unexpected payment breakdown: %+v", report.ByPayment)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "cajero", Role: "cashier"})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Code:           "TST-099",
		Name:           "No permitido",
		CategoryID:     1,
		SalePriceCents: 1000,
	})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin role error, got %v", err)
	}
}
