package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ferrepos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("empty cart")
	ErrInvalidInput      = errors.New("invalid input")
	// ErrStorage marks failures of the underlying store itself (connection,
	// constraint, deadlock). Callers may retry: the atomic unit of work is
	// rolled back in full before this is returned.
	ErrStorage = errors.New("storage failure")
)

// InsufficientStockError reports which product could not cover the
// requested quantity at commit time. It matches ErrInsufficientStock
// under errors.Is.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	if e.ProductName != "" {
		return fmt.Sprintf("insufficient stock for %q (product %d): %d available, %d requested",
			e.ProductName, e.ProductID, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %d: %d available, %d requested",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context, onlySellable bool) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListLowStockProducts(ctx context.Context) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, name string) (*domain.Category, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	ListCustomerPurchases(ctx context.Context, customerID int64) ([]domain.CustomerPurchase, error)

	// CreateSale performs the atomic commit: for every line it re-checks
	// and decrements the product's stock, then writes the sale and its
	// line items, all in one unit of work. The sale's total and invoice
	// number are assigned here. On any failure nothing is applied.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error)
	GetTopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error)
	GetInventoryValuation(ctx context.Context) (domain.InventoryValuation, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// CatalogReader is the read-only slice of Repository the cart needs for
// its advisory checks.
type CatalogReader interface {
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
}
