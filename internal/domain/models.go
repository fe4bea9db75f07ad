package domain

import "time"

// Money is represented in integer cents throughout. Identifiers are the
// store's serial keys; zero means "not yet persisted".

type Product struct {
	ID                 int64  `json:"id"`
	Code               string `json:"code"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Brand              string `json:"brand,omitempty"`
	CategoryID         int64  `json:"category_id"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	Stock              int    `json:"stock"`
	MinStock           int    `json:"min_stock"`
	Active             bool   `json:"active"`
}

type ProductCreateRequest struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Brand              string `json:"brand"`
	CategoryID         int64  `json:"category_id"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	InitialStock       int    `json:"initial_stock"`
	MinStock           int    `json:"min_stock"`
}

type ProductUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	Brand              *string `json:"brand,omitempty"`
	CategoryID         *int64  `json:"category_id,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	SalePriceCents     *int64  `json:"sale_price_cents,omitempty"`
	MinStock           *int    `json:"min_stock,omitempty"`
	Active             *bool   `json:"active,omitempty"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Customer struct {
	ID           int64     `json:"id"`
	NationalID   string    `json:"national_id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Address      string    `json:"address,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

type CustomerCreateRequest struct {
	NationalID string `json:"national_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
}

type CustomerUpdateRequest struct {
	NationalID *string `json:"national_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Email      *string `json:"email,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// Sale is the durable, immutable record of a completed transaction.
// CustomerID is nil for walk-in sales.
type Sale struct {
	ID             int64          `json:"id"`
	InvoiceNumber  string         `json:"invoice_number"`
	IdempotencyKey string         `json:"-"`
	CustomerID     *int64         `json:"customer_id,omitempty"`
	PaymentMethod  string         `json:"payment_method"`
	TotalCents     int64          `json:"total_cents"`
	CreatedAt      time.Time      `json:"created_at"`
	Items          []SaleLineItem `json:"items"`
}

// SaleLineItem freezes the product name and unit price at sale time;
// later catalog changes never alter it.
type SaleLineItem struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (li SaleLineItem) SubtotalCents() int64 {
	return int64(li.Qty) * li.UnitPriceCents
}

type SaleRequestLine struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type SaleCreateRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	CustomerID     *int64            `json:"customer_id,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	Lines          []SaleRequestLine `json:"lines"`
}

type SaleResponse struct {
	SaleID        int64     `json:"sale_id"`
	InvoiceNumber string    `json:"invoice_number"`
	TotalCents    int64     `json:"total_cents"`
	ItemCount     int       `json:"item_count"`
	Duplicate     bool      `json:"duplicate"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type SalesReportPayment struct {
	PaymentMethod string `json:"payment_method"`
	Sales         int64  `json:"sales"`
	TotalCents    int64  `json:"total_cents"`
}

type SalesReportDay struct {
	Date       string `json:"date"`
	Sales      int64  `json:"sales"`
	TotalCents int64  `json:"total_cents"`
}

type SalesReport struct {
	From               string               `json:"from"`
	To                 string               `json:"to"`
	Sales              int64                `json:"sales"`
	GrossCents         int64                `json:"gross_cents"`
	AverageTicketCents int64                `json:"average_ticket_cents"`
	DistinctCustomers  int64                `json:"distinct_customers"`
	ByPayment          []SalesReportPayment `json:"by_payment"`
	ByDay              []SalesReportDay     `json:"by_day"`
}

type TopProduct struct {
	ProductID    int64  `json:"product_id"`
	Name         string `json:"name"`
	QtySold      int64  `json:"qty_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type InventoryValuation struct {
	Products       int64 `json:"products"`
	CostValueCents int64 `json:"cost_value_cents"`
	SaleValueCents int64 `json:"sale_value_cents"`
	LowStockCount  int64 `json:"low_stock_count"`
}

type CustomerPurchase struct {
	SaleID        int64     `json:"sale_id"`
	InvoiceNumber string    `json:"invoice_number"`
	PaymentMethod string    `json:"payment_method"`
	TotalCents    int64     `json:"total_cents"`
	ItemCount     int       `json:"item_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            int64     `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}
