package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ferrepos/internal/domain"
	"ferrepos/internal/store"

	"sync"
)

// Store is the dev/test backend. It honors the same commit contract as
// the postgres store: CreateSale applies every stock decrement and the
// sale rows under one lock, or nothing at all.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	categories      map[int64]domain.Category
	customers       map[int64]domain.Customer
	customersByNID  map[string]int64
	salesByID       map[int64]*domain.Sale
	salesByIdemKey  map[string]*domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	nextProductID  int64
	nextCategoryID int64
	nextCustomerID int64
	nextSaleID     int64
	nextAuditID    int64
	nextInvoiceSeq int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo
// mode. Credentials come from SEED_ADMIN_PASSWORD and
// SEED_CASHIER_PASSWORD; hardcoded dev defaults are used otherwise.
// These are never used in production (postgres is the backend when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	categories := []domain.Category{
		{ID: 1, Name: "Herramientas"},
		{ID: 2, Name: "Electricidad"},
		{ID: 3, Name: "Plomeria"},
		{ID: 4, Name: "Pinturas"},
		{ID: 5, Name: "Ferreteria General"},
	}

	products := []domain.Product{
		{ID: 1, Code: "HER-001", Name: "Martillo Carpintero 16oz", Brand: "Stanley", CategoryID: 1, PurchasePriceCents: 62000, SalePriceCents: 85000, Stock: 25, MinStock: 5, Active: true},
		{ID: 2, Code: "HER-002", Name: "Destornillador Plano 6\"", Brand: "Truper", CategoryID: 1, PurchasePriceCents: 18000, SalePriceCents: 27500, Stock: 40, MinStock: 8, Active: true},
		{ID: 3, Code: "HER-003", Name: "Alicate Universal 8\"", Brand: "Truper", CategoryID: 1, PurchasePriceCents: 41000, SalePriceCents: 59000, Stock: 18, MinStock: 5, Active: true},
		{ID: 4, Code: "ELE-001", Name: "Cable THHN 12 AWG x Metro", Brand: "Electrocables", CategoryID: 2, PurchasePriceCents: 6500, SalePriceCents: 9500, Stock: 500, MinStock: 100, Active: true},
		{ID: 5, Code: "ELE-002", Name: "Foco LED 9W", Brand: "Sylvania", CategoryID: 2, PurchasePriceCents: 14500, SalePriceCents: 22000, Stock: 60, MinStock: 12, Active: true},
		{ID: 6, Code: "PLO-001", Name: "Tubo PVC 1/2\" x 3m", Brand: "Plastigama", CategoryID: 3, PurchasePriceCents: 24000, SalePriceCents: 36000, Stock: 35, MinStock: 10, Active: true},
		{ID: 7, Code: "PLO-002", Name: "Llave de Paso 1/2\"", Brand: "FV", CategoryID: 3, PurchasePriceCents: 52000, SalePriceCents: 78000, Stock: 14, MinStock: 4, Active: true},
		{ID: 8, Code: "PIN-001", Name: "Pintura Latex Blanco Galon", Brand: "Condor", CategoryID: 4, PurchasePriceCents: 145000, SalePriceCents: 198000, Stock: 20, MinStock: 6, Active: true},
		{ID: 9, Code: "PIN-002", Name: "Brocha 3\"", Brand: "Wilson", CategoryID: 4, PurchasePriceCents: 21000, SalePriceCents: 32000, Stock: 30, MinStock: 8, Active: true},
		{ID: 10, Code: "FER-001", Name: "Clavos 2\" Libra", Brand: "", CategoryID: 5, PurchasePriceCents: 8000, SalePriceCents: 12500, Stock: 80, MinStock: 20, Active: true},
		{ID: 11, Code: "FER-002", Name: "Tornillo Autoperforante x100", Brand: "", CategoryID: 5, PurchasePriceCents: 32000, SalePriceCents: 45000, Stock: 45, MinStock: 10, Active: true},
		{ID: 12, Code: "FER-003", Name: "Candado 40mm", Brand: "Viro", CategoryID: 5, PurchasePriceCents: 68000, SalePriceCents: 95000, Stock: 12, MinStock: 4, Active: true},
	}

	now := time.Now().UTC()
	customers := []domain.Customer{
		{ID: 1, NationalID: "1712345678", Name: "Carlos Mendoza", Phone: "0991234567", Email: "cmendoza@example.com", Address: "Av. Amazonas 123", RegisteredAt: now},
		{ID: 2, NationalID: "0923456789", Name: "Maria Solano", Phone: "0987654321", Email: "msolano@example.com", Address: "Calle Bolivar 45", RegisteredAt: now},
	}

	productMap := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	categoryMap := make(map[int64]domain.Category, len(categories))
	for _, c := range categories {
		categoryMap[c.ID] = c
	}
	customerMap := make(map[int64]domain.Customer, len(customers))
	customersByNID := make(map[string]int64, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
		customersByNID[c.NationalID] = c.ID
	}

	return &Store{
		products:        productMap,
		categories:      categoryMap,
		customers:       customerMap,
		customersByNID:  customersByNID,
		salesByID:       make(map[int64]*domain.Sale),
		salesByIdemKey:  make(map[string]*domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
		nextProductID:   int64(len(products)),
		nextCategoryID:  int64(len(categories)),
		nextCustomerID:  int64(len(customers)),
	}
}

func (s *Store) ListProducts(_ context.Context, onlySellable bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if onlySellable && p.Stock < 1 {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	for _, existing := range s.products {
		if existing.Code == product.Code {
			return nil, store.ErrInvalidInput
		}
	}
	if _, exists := s.categories[product.CategoryID]; !exists {
		return nil, store.ErrNotFound
	}

	s.nextProductID++
	product.ID = s.nextProductID
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Stock is owned by the sale commit path, never by catalog edits.
	product.Stock = existing.Stock
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.Active && p.Stock <= p.MinStock {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if a.Stock == b.Stock {
			return cmpString(a.Name, b.Name)
		}
		return a.Stock - b.Stock
	})
	return low, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, name string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return nil, store.ErrInvalidInput
	}
	for _, c := range s.categories {
		if strings.EqualFold(c.Name, name) {
			return nil, store.ErrInvalidInput
		}
	}

	s.nextCategoryID++
	category := domain.Category{ID: s.nextCategoryID, Name: name}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.NationalID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.customersByNID[customer.NationalID]; exists {
		return nil, store.ErrInvalidInput
	}

	s.nextCustomerID++
	customer.ID = s.nextCustomerID
	if customer.RegisteredAt.IsZero() {
		customer.RegisteredAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	s.customersByNID[customer.NationalID] = customer.ID
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.NationalID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if other, taken := s.customersByNID[customer.NationalID]; taken && other != customer.ID {
		return nil, store.ErrInvalidInput
	}

	delete(s.customersByNID, existing.NationalID)
	customer.RegisteredAt = existing.RegisteredAt
	s.customers[customer.ID] = customer
	s.customersByNID[customer.NationalID] = customer.ID
	updated := customer
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(c.NationalID, needle) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) ListCustomerPurchases(_ context.Context, customerID int64) ([]domain.CustomerPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.customers[customerID]; !exists {
		return nil, store.ErrNotFound
	}

	purchases := make([]domain.CustomerPurchase, 0, 16)
	for _, sale := range s.salesByID {
		if sale.CustomerID == nil || *sale.CustomerID != customerID {
			continue
		}
		itemCount := 0
		for _, item := range sale.Items {
			itemCount += item.Qty
		}
		purchases = append(purchases, domain.CustomerPurchase{
			SaleID:        sale.ID,
			InvoiceNumber: sale.InvoiceNumber,
			PaymentMethod: sale.PaymentMethod,
			TotalCents:    sale.TotalCents,
			ItemCount:     itemCount,
			CreatedAt:     sale.CreatedAt,
		})
	}
	slices.SortFunc(purchases, func(a, b domain.CustomerPurchase) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.SaleID - a.SaleID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return purchases, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey == "" {
		return nil, store.ErrInvalidInput
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if !domain.IsSupportedPaymentMethod(sale.PaymentMethod) {
		return nil, store.ErrInvalidInput
	}
	if existing, dup := s.salesByIdemKey[sale.IdempotencyKey]; dup {
		return copySale(existing), nil
	}
	if sale.CustomerID != nil {
		if _, exists := s.customers[*sale.CustomerID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	// Validate every line before touching any stock so a late failure
	// cannot leave a partial decrement behind.
	requested := make(map[int64]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		requested[item.ProductID] += item.Qty
	}
	for productID, qty := range requested {
		product, exists := s.products[productID]
		if !exists || !product.Active {
			return nil, store.ErrNotFound
		}
		if product.Stock < qty {
			return nil, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   qty,
			}
		}
	}

	for productID, qty := range requested {
		product := s.products[productID]
		product.Stock -= qty
		s.products[productID] = product
	}

	total := int64(0)
	for _, item := range sale.Items {
		total += item.SubtotalCents()
	}

	s.nextSaleID++
	s.nextInvoiceSeq++
	sale.ID = s.nextSaleID
	sale.InvoiceNumber = fmt.Sprintf("FAC-%06d", s.nextInvoiceSeq)
	sale.TotalCents = total
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	stored := sale
	s.salesByID[stored.ID] = &stored
	s.salesByIdemKey[stored.IdempotencyKey] = &stored
	return copySale(&stored), nil
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return copySale(sale), nil
}

func (s *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByIdemKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return copySale(sale), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 500
	}
	sales := make([]domain.Sale, 0, limit)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		sales = append(sales, *copySale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return int(a.ID - b.ID)
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSalesReport(_ context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
	}

	byPayment := map[string]*domain.SalesReportPayment{}
	byDay := map[string]*domain.SalesReportDay{}
	customers := map[int64]struct{}{}

	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		report.Sales++
		report.GrossCents += sale.TotalCents
		if sale.CustomerID != nil {
			customers[*sale.CustomerID] = struct{}{}
		}

		pay := byPayment[sale.PaymentMethod]
		if pay == nil {
			pay = &domain.SalesReportPayment{PaymentMethod: sale.PaymentMethod}
			byPayment[sale.PaymentMethod] = pay
		}
		pay.Sales++
		pay.TotalCents += sale.TotalCents

		dayKey := sale.CreatedAt.UTC().Format("2006-01-02")
		day := byDay[dayKey]
		if day == nil {
			day = &domain.SalesReportDay{Date: dayKey}
			byDay[dayKey] = day
		}
		day.Sales++
		day.TotalCents += sale.TotalCents
	}

	if report.Sales > 0 {
		report.AverageTicketCents = report.GrossCents / report.Sales
	}
	report.DistinctCustomers = int64(len(customers))

	for _, pay := range byPayment {
		report.ByPayment = append(report.ByPayment, *pay)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.SalesReportPayment) int {
		return int(b.TotalCents - a.TotalCents)
	})
	for _, day := range byDay {
		report.ByDay = append(report.ByDay, *day)
	}
	slices.SortFunc(report.ByDay, func(a, b domain.SalesReportDay) int {
		return cmpString(a.Date, b.Date)
	})

	return report, nil
}

func (s *Store) GetTopProducts(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 5
	}

	byProduct := map[int64]*domain.TopProduct{}
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		for _, item := range sale.Items {
			top := byProduct[item.ProductID]
			if top == nil {
				top = &domain.TopProduct{ProductID: item.ProductID, Name: item.ProductName}
				byProduct[item.ProductID] = top
			}
			top.QtySold += int64(item.Qty)
			top.RevenueCents += item.SubtotalCents()
		}
	}

	tops := make([]domain.TopProduct, 0, len(byProduct))
	for _, top := range byProduct {
		tops = append(tops, *top)
	}
	slices.SortFunc(tops, func(a, b domain.TopProduct) int {
		if a.QtySold == b.QtySold {
			return int(b.RevenueCents - a.RevenueCents)
		}
		return int(b.QtySold - a.QtySold)
	})
	if len(tops) > limit {
		tops = tops[:limit]
	}
	return tops, nil
}

func (s *Store) GetInventoryValuation(_ context.Context) (domain.InventoryValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var valuation domain.InventoryValuation
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		valuation.Products++
		valuation.CostValueCents += int64(p.Stock) * p.PurchasePriceCents
		valuation.SaleValueCents += int64(p.Stock) * p.SalePriceCents
		if p.Stock <= p.MinStock {
			valuation.LowStockCount++
		}
	}
	return valuation, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		return int(b.ID - a.ID)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func validateProduct(product domain.Product) error {
	if product.Code == "" || product.Name == "" || product.CategoryID < 1 {
		return store.ErrInvalidInput
	}
	if product.SalePriceCents < 1 || product.PurchasePriceCents < 0 {
		return store.ErrInvalidInput
	}
	if product.Stock < 0 || product.MinStock < 0 {
		return store.ErrInvalidInput
	}
	return nil
}

func copySale(sale *domain.Sale) *domain.Sale {
	out := *sale
	out.Items = make([]domain.SaleLineItem, len(sale.Items))
	copy(out.Items, sale.Items)
	return &out
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}
