package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ferrepos/internal/cache"
	"ferrepos/internal/cart"
	"ferrepos/internal/domain"
	"ferrepos/internal/receipt"
	"ferrepos/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	receipts     *receipt.Generator
	receiptCache cache.ReceiptCache
	receiptTTL   time.Duration
	logger       *zap.Logger
}

func New(repo store.Repository, receipts *receipt.Generator, receiptCache cache.ReceiptCache, receiptTTL time.Duration, logger *zap.Logger) *Service {
	if receiptCache == nil {
		receiptCache = cache.NoopReceiptCache{}
	}
	if receiptTTL < 1 {
		receiptTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:         repo,
		receipts:     receipts,
		receiptCache: receiptCache,
		receiptTTL:   receiptTTL,
		logger:       logger,
	}
}

func (s *Service) ListProducts(ctx context.Context, onlySellable bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, onlySellable)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)

	if req.Code == "" || req.Name == "" || req.CategoryID < 1 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SalePriceCents < 1 || req.PurchasePriceCents < 0 || req.InitialStock < 0 || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		Code:               req.Code,
		Name:               req.Name,
		Description:        strings.TrimSpace(req.Description),
		Brand:              strings.TrimSpace(req.Brand),
		CategoryID:         req.CategoryID,
		PurchasePriceCents: req.PurchasePriceCents,
		SalePriceCents:     req.SalePriceCents,
		Stock:              req.InitialStock,
		MinStock:           req.MinStock,
		Active:             true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("code=%s,price=%d,stock=%d", created.Code, created.SalePriceCents, created.Stock))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.CategoryID != nil {
		if *req.CategoryID < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.CategoryID = *req.CategoryID
	}
	if req.PurchasePriceCents != nil {
		if *req.PurchasePriceCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.MinStock = *req.MinStock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", strconv.FormatInt(saved.ID, 10),
		fmt.Sprintf("active=%t,price=%d", saved.Active, saved.SalePriceCents))

	return *saved, nil
}

func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListLowStockProducts(ctx)
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Category{}, fmt.Errorf("admin role required")
	}

	created, err := s.repo.CreateCategory(ctx, strings.TrimSpace(name))
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", strconv.FormatInt(created.ID, 10), "name="+created.Name)
	return *created, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.Name = strings.TrimSpace(req.Name)
	if req.NationalID == "" || req.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		NationalID:   req.NationalID,
		Name:         req.Name,
		Phone:        strings.TrimSpace(req.Phone),
		Email:        strings.TrimSpace(req.Email),
		Address:      strings.TrimSpace(req.Address),
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", strconv.FormatInt(created.ID, 10), "national_id="+created.NationalID)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id int64, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.NationalID != nil {
		nationalID := strings.TrimSpace(*req.NationalID)
		if nationalID == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.NationalID = nationalID
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", strconv.FormatInt(saved.ID, 10), "national_id="+saved.NationalID)
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search)
}

func (s *Service) ListCustomerPurchases(ctx context.Context, customerID int64) ([]domain.CustomerPurchase, error) {
	return s.repo.ListCustomerPurchases(ctx, customerID)
}

// BuildCart stages the requested lines against the current catalog,
// capturing each product's price as it goes. Requests for unknown,
// inactive, or visibly short products fail here before any commit is
// attempted.
func (s *Service) BuildCart(ctx context.Context, lines []domain.SaleRequestLine) (*cart.Cart, error) {
	crt := cart.New()
	for _, line := range lines {
		if err := crt.Add(ctx, s.repo, line.ProductID, line.Qty); err != nil {
			return nil, err
		}
	}
	return crt, nil
}

// CommitSale turns a staged cart into a durable sale. The flow is:
// reject empty carts and unknown payment methods, short-circuit on a
// previously seen idempotency key, then hand the frozen line items to
// the store for the atomic stock-decrement-and-insert. The cart is
// left untouched; the caller clears it once the response is in hand.
func (s *Service) CommitSale(ctx context.Context, crt *cart.Cart, customerID *int64, paymentMethod string, idempotencyKey string) (domain.SaleResponse, error) {
	if crt == nil || crt.Empty() {
		return domain.SaleResponse{}, store.ErrEmptyCart
	}

	if paymentMethod == "" {
		paymentMethod = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentMethod(paymentMethod) {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	if customerID != nil {
		if _, err := s.repo.GetCustomerByID(ctx, *customerID); err != nil {
			return domain.SaleResponse{}, err
		}
	}

	if existing, err := s.repo.FindSaleByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return toSaleResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	created, err := s.repo.CreateSale(ctx, domain.Sale{
		IdempotencyKey: idempotencyKey,
		CustomerID:     customerID,
		PaymentMethod:  paymentMethod,
		Items:          crt.Items(),
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logger.Info("sale committed",
		zap.Int64("sale_id", created.ID),
		zap.String("invoice", created.InvoiceNumber),
		zap.Int64("total_cents", created.TotalCents),
		zap.String("payment_method", created.PaymentMethod),
	)
	s.logAudit(ctx, "sale_commit", "sale", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("invoice=%s,total=%d,payment=%s", created.InvoiceNumber, created.TotalCents, created.PaymentMethod))

	return toSaleResponse(created, false), nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// Receipt renders the ticket for a committed sale. Tickets are
// immutable, so a cache hit is returned verbatim; cache failures only
// cost the re-render.
func (s *Service) Receipt(ctx context.Context, saleID int64) ([]byte, error) {
	if ticket, hit, err := s.receiptCache.Get(ctx, saleID); err != nil {
		s.logger.Warn("receipt cache read failed", zap.Int64("sale_id", saleID), zap.Error(err))
	} else if hit {
		return ticket, nil
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}

	customerName := ""
	if sale.CustomerID != nil {
		customer, err := s.repo.GetCustomerByID(ctx, *sale.CustomerID)
		if err == nil {
			customerName = customer.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	ticket := s.receipts.Render(sale, customerName)
	if err := s.receiptCache.Set(ctx, saleID, ticket, s.receiptTTL); err != nil {
		s.logger.Warn("receipt cache write failed", zap.Int64("sale_id", saleID), zap.Error(err))
	}
	return ticket, nil
}

func (s *Service) SalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	if !from.Before(to) {
		return domain.SalesReport{}, store.ErrInvalidInput
	}
	return s.repo.GetSalesReport(ctx, from, to)
}

func (s *Service) TopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	if !from.Before(to) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetTopProducts(ctx, from, to, limit)
}

func (s *Service) InventoryValuation(ctx context.Context) (domain.InventoryValuation, error) {
	return s.repo.GetInventoryValuation(ctx)
}

// ExportSalesCSV flattens every sale line in the range into one CSV
// row, one row per line item, totals in cents.
func (s *Service) ExportSalesCSV(ctx context.Context, from time.Time, to time.Time) ([]byte, error) {
	if !from.Before(to) {
		return nil, store.ErrInvalidInput
	}

	sales, err := s.repo.ListSales(ctx, from, to, 10000)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"invoice", "date", "customer_id", "payment_method", "product_id", "product", "qty", "unit_price_cents", "subtotal_cents", "sale_total_cents"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, sale := range sales {
		customerID := ""
		if sale.CustomerID != nil {
			customerID = strconv.FormatInt(*sale.CustomerID, 10)
		}
		for _, item := range sale.Items {
			record := []string{
				sale.InvoiceNumber,
				sale.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
				customerID,
				sale.PaymentMethod,
				strconv.FormatInt(item.ProductID, 10),
				item.ProductName,
				strconv.Itoa(item.Qty),
				strconv.FormatInt(item.UnitPriceCents, 10),
				strconv.FormatInt(item.SubtotalCents(), 10),
				strconv.FormatInt(sale.TotalCents, 10),
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func toSaleResponse(sale *domain.Sale, duplicate bool) domain.SaleResponse {
	itemCount := 0
	for _, item := range sale.Items {
		itemCount += item.Qty
	}

	return domain.SaleResponse{
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		TotalCents:    sale.TotalCents,
		ItemCount:     itemCount,
		Duplicate:     duplicate,
		CreatedAt:     sale.CreatedAt,
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}
