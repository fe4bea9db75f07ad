// Package cart holds the in-memory staging area for a sale in
// progress. A Cart belongs to exactly one sale workflow: it is created
// when the cashier starts ringing up items and discarded after the
// commit succeeds or the workflow is abandoned. It never touches
// stock; the authoritative check happens when the cart is committed.
package cart

import (
	"context"

	"ferrepos/internal/domain"
	"ferrepos/internal/store"
)

type Line struct {
	ProductID      int64
	ProductName    string
	Qty            int
	UnitPriceCents int64
}

func (l Line) SubtotalCents() int64 {
	return int64(l.Qty) * l.UnitPriceCents
}

type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// Add stages qty units of a product. The product's current sale price
// is captured now and not re-read at commit time: the customer pays
// the price they were quoted. The stock comparison here is advisory
// only, for early feedback; two carts may both pass it and race for
// the same units at commit.
func (c *Cart) Add(ctx context.Context, catalog store.CatalogReader, productID int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	product, err := catalog.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if !product.Active {
		return store.ErrNotFound
	}

	staged := c.stagedQty(productID)
	if staged+qty > product.Stock {
		return &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   staged + qty,
		}
	}

	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Qty += qty
			return nil
		}
	}

	c.lines = append(c.lines, Line{
		ProductID:      product.ID,
		ProductName:    product.Name,
		Qty:            qty,
		UnitPriceCents: product.SalePriceCents,
	})
	return nil
}

func (c *Cart) Remove(productID int64) {
	kept := c.lines[:0]
	for _, line := range c.lines {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	c.lines = kept
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Lines returns a copy in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) TotalCents() int64 {
	total := int64(0)
	for _, line := range c.lines {
		total += line.SubtotalCents()
	}
	return total
}

// Items converts the staged lines into sale line items with the
// captured prices.
func (c *Cart) Items() []domain.SaleLineItem {
	items := make([]domain.SaleLineItem, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, domain.SaleLineItem{
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
	}
	return items
}

func (c *Cart) stagedQty(productID int64) int {
	for _, line := range c.lines {
		if line.ProductID == productID {
			return line.Qty
		}
	}
	return 0
}
