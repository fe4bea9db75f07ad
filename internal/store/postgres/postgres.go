package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ferrepos/internal/domain"
	"ferrepos/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, onlySellable bool) ([]domain.Product, error) {
	query := `
		SELECT id, code, name, COALESCE(description,''), COALESCE(brand,''), category_id,
			purchase_price_cents, sale_price_cents, stock, min_stock, active
		FROM products
		WHERE active = true
	`
	if onlySellable {
		query += ` AND stock > 0`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Brand, &p.CategoryID,
			&p.PurchasePriceCents, &p.SalePriceCents, &p.Stock, &p.MinStock, &p.Active); err != nil {
			return nil, storageErr(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, COALESCE(description,''), COALESCE(brand,''), category_id,
			purchase_price_cents, sale_price_cents, stock, min_stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Brand, &p.CategoryID,
		&p.PurchasePriceCents, &p.SalePriceCents, &p.Stock, &p.MinStock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.CategoryID < 1 || product.SalePriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.Stock < 0 || product.MinStock < 0 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	product.Active = true
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (
			code, name, description, brand, category_id,
			purchase_price_cents, sale_price_cents, stock, min_stock, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		RETURNING id
	`, product.Code, product.Name, product.Description, product.Brand, product.CategoryID,
		product.PurchasePriceCents, product.SalePriceCents, product.Stock, product.MinStock, product.Active,
	).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.CategoryID < 1 || product.SalePriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	// Stock is deliberately absent from the SET list: only the sale
	// commit path may move it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET code = $2, name = $3, description = $4, brand = $5, category_id = $6,
			purchase_price_cents = $7, sale_price_cents = $8, min_stock = $9, active = $10,
			updated_at = now()
		WHERE id = $1
	`, product.ID, product.Code, product.Name, product.Description, product.Brand, product.CategoryID,
		product.PurchasePriceCents, product.SalePriceCents, product.MinStock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, COALESCE(description,''), COALESCE(brand,''), category_id,
			purchase_price_cents, sale_price_cents, stock, min_stock, active
		FROM products
		WHERE active = true AND stock <= min_stock
		ORDER BY stock ASC, name
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 16)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Brand, &p.CategoryID,
			&p.PurchasePriceCents, &p.SalePriceCents, &p.Stock, &p.MinStock, &p.Active); err != nil {
			return nil, storageErr(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return products, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, storageErr(err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}

	var category domain.Category
	category.Name = name
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name)
		VALUES ($1)
		RETURNING id
	`, name).Scan(&category.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, storageErr(err)
	}
	return &category, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.NationalID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.RegisteredAt.IsZero() {
		customer.RegisteredAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (national_id, name, phone, email, address, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, customer.NationalID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.RegisteredAt,
	).Scan(&customer.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, storageErr(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, national_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), registered_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.NationalID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	c.RegisteredAt = c.RegisteredAt.UTC()
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.NationalID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET national_id = $2, name = $3, phone = $4, email = $5, address = $6
		WHERE id = $1
	`, customer.ID, customer.NationalID, customer.Name, customer.Phone, customer.Email, customer.Address)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetCustomerByID(ctx, customer.ID)
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	search = strings.TrimSpace(search)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, national_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), registered_at
		FROM customers
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR national_id LIKE '%' || $1 || '%'
		ORDER BY name
	`, search)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.NationalID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.RegisteredAt); err != nil {
			return nil, storageErr(err)
		}
		c.RegisteredAt = c.RegisteredAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return customers, nil
}

func (s *Store) ListCustomerPurchases(ctx context.Context, customerID int64) ([]domain.CustomerPurchase, error) {
	if _, err := s.GetCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.invoice_number, s.payment_method, s.total_cents,
			COALESCE(SUM(si.qty),0)::int, s.created_at
		FROM sales s
		LEFT JOIN sale_items si ON si.sale_id = s.id
		WHERE s.customer_id = $1
		GROUP BY s.id
		ORDER BY s.created_at DESC, s.id DESC
	`, customerID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	purchases := make([]domain.CustomerPurchase, 0, 16)
	for rows.Next() {
		var p domain.CustomerPurchase
		if err := rows.Scan(&p.SaleID, &p.InvoiceNumber, &p.PaymentMethod, &p.TotalCents, &p.ItemCount, &p.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return purchases, nil
}

// CreateSale is the atomic commit. Each line's decrement is a
// conditional UPDATE guarded by stock >= qty, so the stock column can
// never go negative no matter how many commits race: the database
// either applies the decrement or reports zero rows, and a zero-row
// outcome rolls the whole sale back.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" {
		return nil, store.ErrInvalidInput
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if !domain.IsSupportedPaymentMethod(sale.PaymentMethod) {
		return nil, store.ErrInvalidInput
	}

	requested := make(map[int64]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 || item.UnitPriceCents < 1 {
			return nil, store.ErrInvalidInput
		}
		requested[item.ProductID] += item.Qty
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	// Decrement in ascending product order so two concurrent
	// multi-product sales always take their row locks in the same
	// sequence and cannot deadlock each other.
	for _, productID := range sortedProductIDs(requested) {
		qty := requested[productID]
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND active = true AND stock >= $1
		`, qty, productID)
		if err != nil {
			return nil, storageErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, storageErr(err)
		}
		if affected == 0 {
			// Distinguish a missing/inactive product from a stock
			// shortfall so the caller gets a precise error.
			var name string
			var available int
			err := pgTx.QueryRowContext(ctx, `
				SELECT name, stock
				FROM products
				WHERE id = $1 AND active = true
			`, productID).Scan(&name, &available)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			if err != nil {
				return nil, storageErr(err)
			}
			return nil, &store.InsufficientStockError{
				ProductID:   productID,
				ProductName: name,
				Available:   available,
				Requested:   qty,
			}
		}
	}

	total := int64(0)
	for _, item := range sale.Items {
		total += item.SubtotalCents()
	}
	sale.TotalCents = total
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var invoiceSeq int64
	if err := pgTx.QueryRowContext(ctx, `SELECT nextval('sale_invoice_seq')`).Scan(&invoiceSeq); err != nil {
		return nil, storageErr(err)
	}
	sale.InvoiceNumber = fmt.Sprintf("FAC-%06d", invoiceSeq)

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO sales (invoice_number, idempotency_key, customer_id, payment_method, total_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, sale.InvoiceNumber, sale.IdempotencyKey, sale.CustomerID, sale.PaymentMethod, sale.TotalCents, sale.CreatedAt,
	).Scan(&sale.ID)
	if err != nil {
		if isUniqueViolation(err) {
			// Another commit with the same key won the race; its sale is
			// the sale. The rollback on our way out undoes the decrements.
			existing, lookupErr := s.FindSaleByIdempotencyKey(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, item.ProductID, item.ProductName, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, storageErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, storageErr(err)
	}

	return &sale, nil
}

func sortedProductIDs(requested map[int64]int) []int64 {
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value any) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var sale domain.Sale
	var customerID sql.NullInt64
	query := fmt.Sprintf(`
		SELECT id, invoice_number, idempotency_key, customer_id, payment_method, total_cents, created_at
		FROM sales
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&sale.ID,
		&sale.InvoiceNumber,
		&sale.IdempotencyKey,
		&customerID,
		&sale.PaymentMethod,
		&sale.TotalCents,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	if customerID.Valid {
		id := customerID.Int64
		sale.CustomerID = &id
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	items := make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		var item domain.SaleLineItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, storageErr(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	sale.Items = items

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, idempotency_key, customer_id, payment_method, total_cents, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY id ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	saleIndex := make(map[int64]int, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullInt64
		if err := rows.Scan(&sale.ID, &sale.InvoiceNumber, &sale.IdempotencyKey, &customerID,
			&sale.PaymentMethod, &sale.TotalCents, &sale.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		if customerID.Valid {
			id := customerID.Int64
			sale.CustomerID = &id
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.Items = make([]domain.SaleLineItem, 0, 4)
		saleIndex[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	if len(sales) == 0 {
		return sales, nil
	}

	saleIDs := make([]int64, 0, len(sales))
	for _, sale := range sales {
		saleIDs = append(saleIDs, sale.ID)
	}
	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, saleIDs)
	if err != nil {
		return nil, storageErr(err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var saleID int64
		var item domain.SaleLineItem
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, storageErr(err)
		}
		if idx, ok := saleIndex[saleID]; ok {
			sales[idx].Items = append(sales[idx].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, storageErr(err)
	}

	return sales, nil
}

func (s *Store) GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	report := domain.SalesReport{
		From:      from.Format("2006-01-02"),
		To:        to.Format("2006-01-02"),
		ByPayment: make([]domain.SalesReportPayment, 0, 4),
		ByDay:     make([]domain.SalesReportDay, 0, 31),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(total_cents),0)::bigint,
			COUNT(DISTINCT customer_id)::bigint
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.Sales, &report.GrossCents, &report.DistinctCustomers)
	if err != nil {
		return report, storageErr(err)
	}
	if report.Sales > 0 {
		report.AverageTicketCents = report.GrossCents / report.Sales
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY payment_method
		ORDER BY 3 DESC
	`, from, to)
	if err != nil {
		return report, storageErr(err)
	}
	for paymentRows.Next() {
		var row domain.SalesReportPayment
		if err := paymentRows.Scan(&row.PaymentMethod, &row.Sales, &row.TotalCents); err != nil {
			_ = paymentRows.Close()
			return report, storageErr(err)
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return report, storageErr(err)
	}
	_ = paymentRows.Close()

	dayRows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'), COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1
		ORDER BY 1
	`, from, to)
	if err != nil {
		return report, storageErr(err)
	}
	for dayRows.Next() {
		var row domain.SalesReportDay
		if err := dayRows.Scan(&row.Date, &row.Sales, &row.TotalCents); err != nil {
			_ = dayRows.Close()
			return report, storageErr(err)
		}
		report.ByDay = append(report.ByDay, row)
	}
	if err := dayRows.Err(); err != nil {
		_ = dayRows.Close()
		return report, storageErr(err)
	}
	_ = dayRows.Close()

	return report, nil
}

func (s *Store) GetTopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.product_id, si.product_name,
			COALESCE(SUM(si.qty),0)::bigint,
			COALESCE(SUM(si.qty * si.unit_price_cents),0)::bigint
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2
		GROUP BY si.product_id, si.product_name
		ORDER BY 3 DESC, 4 DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	tops := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var top domain.TopProduct
		if err := rows.Scan(&top.ProductID, &top.Name, &top.QtySold, &top.RevenueCents); err != nil {
			return nil, storageErr(err)
		}
		tops = append(tops, top)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return tops, nil
}

func (s *Store) GetInventoryValuation(ctx context.Context) (domain.InventoryValuation, error) {
	var valuation domain.InventoryValuation
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(stock::bigint * purchase_price_cents),0)::bigint,
			COALESCE(SUM(stock::bigint * sale_price_cents),0)::bigint,
			COALESCE(SUM(CASE WHEN stock <= min_stock THEN 1 ELSE 0 END),0)::bigint
		FROM products
		WHERE active = true
	`).Scan(&valuation.Products, &valuation.CostValueCents, &valuation.SaleValueCents, &valuation.LowStockCount)
	if err != nil {
		return valuation, storageErr(err)
	}
	return valuation, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return storageErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return storageErr(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// storageErr tags driver and connection failures so callers can match
// them as a class without inspecting pg error codes.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrStorage, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
