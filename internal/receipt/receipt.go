// Package receipt renders a committed sale as a fixed-width text
// ticket, 40 columns wide, suitable for thermal printers and plain
// terminals. Rendering is a pure function of the sale record: the same
// sale always produces byte-identical output, which makes the result
// safe to cache and to re-print.
package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"ferrepos/internal/domain"
)

const (
	lineWidth    = 40
	nameColWidth = 18
	walkInName   = "Consumidor Final"
)

// StoreInfo is the letterhead printed at the top of every ticket.
type StoreInfo struct {
	Name    string
	Address string
	Phone   string
}

type Generator struct {
	info StoreInfo
}

func NewGenerator(info StoreInfo) *Generator {
	return &Generator{info: info}
}

// Render produces the ticket for a sale. customerName may be empty for
// walk-in sales. Line items print in the sale's stored order with the
// prices frozen at sale time.
func (g *Generator) Render(sale *domain.Sale, customerName string) []byte {
	var buf bytes.Buffer

	rule := strings.Repeat("=", lineWidth)
	thin := strings.Repeat("-", lineWidth)

	buf.WriteString(rule)
	buf.WriteByte('\n')
	writeCentered(&buf, g.info.Name)
	if g.info.Address != "" {
		writeCentered(&buf, g.info.Address)
	}
	if g.info.Phone != "" {
		writeCentered(&buf, "Tel: "+g.info.Phone)
	}
	buf.WriteString(rule)
	buf.WriteByte('\n')

	if customerName == "" {
		customerName = walkInName
	}
	fmt.Fprintf(&buf, "Factura: %s\n", sale.InvoiceNumber)
	fmt.Fprintf(&buf, "Fecha:   %s\n", sale.CreatedAt.UTC().Format("02/01/2006 15:04"))
	fmt.Fprintf(&buf, "Cliente: %s\n", truncate(customerName, lineWidth-9))
	fmt.Fprintf(&buf, "Pago:    %s\n", paymentLabel(sale.PaymentMethod))

	buf.WriteString(thin)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "%s %4s %7s %8s\n", padRight("Producto", nameColWidth), "Cant", "Precio", "Subtot.")
	buf.WriteString(thin)
	buf.WriteByte('\n')

	for _, item := range sale.Items {
		fmt.Fprintf(&buf, "%s %4d %7s %8s\n",
			padRight(truncate(item.ProductName, nameColWidth), nameColWidth),
			item.Qty,
			money(item.UnitPriceCents),
			money(item.SubtotalCents()),
		)
	}

	buf.WriteString(thin)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "%-*s %8s\n", lineWidth-9, "TOTAL:", money(sale.TotalCents))
	buf.WriteString(rule)
	buf.WriteByte('\n')
	writeCentered(&buf, "Gracias por su compra!")

	return buf.Bytes()
}

// Column math counts runes, not bytes, so accented names keep the
// table aligned and truncation never splits a multi-byte character.
func writeCentered(buf *bytes.Buffer, text string) {
	text = truncate(text, lineWidth)
	pad := (lineWidth - utf8.RuneCountInString(text)) / 2
	buf.WriteString(strings.Repeat(" ", pad))
	buf.WriteString(text)
	buf.WriteByte('\n')
}

func truncate(text string, width int) string {
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width])
}

func padRight(text string, width int) string {
	if n := utf8.RuneCountInString(text); n < width {
		return text + strings.Repeat(" ", width-n)
	}
	return text
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func paymentLabel(method string) string {
	switch method {
	case domain.PaymentCash:
		return "Efectivo"
	case domain.PaymentCard:
		return "Tarjeta"
	case domain.PaymentTransfer:
		return "Transferencia"
	default:
		return method
	}
}

// Filename suggests a stable name for an exported copy of the ticket.
func Filename(sale *domain.Sale) string {
	return fmt.Sprintf("recibo_%s_%s.txt", sale.InvoiceNumber, sale.CreatedAt.UTC().Format("20060102"))
}
