package receipt

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferrepos/internal/domain"
)

func testGenerator() *Generator {
	return NewGenerator(StoreInfo{
		Name:    "FERRETERIA DEMO",
		Address: "Av. Siempre Viva 742",
		Phone:   "02-555-0199",
	})
}

func testSale() *domain.Sale {
	return &domain.Sale{
		ID:            42,
		InvoiceNumber: "FAC-000042",
		PaymentMethod: domain.PaymentCash,
		TotalCents:    202000,
		CreatedAt:     time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
		Items: []domain.SaleLineItem{
			{ProductID: 1, ProductName: "Martillo", Qty: 2, UnitPriceCents: 85000},
			{ProductID: 2, ProductName: `Brocha 3"`, Qty: 1, UnitPriceCents: 32000},
		},
	}
}

func TestRenderLayout(t *testing.T) {
	ticket := testGenerator().Render(testSale(), "")
	lines := strings.Split(string(ticket), "\n")

	// Trailing newline leaves one empty element.
	require.Len(t, lines, 19)
	assert.Equal(t, strings.Repeat("=", 40), lines[0])
	assert.Equal(t, "            FERRETERIA DEMO", lines[1])
	assert.Equal(t, "          Av. Siempre Viva 742", lines[2])
	assert.Equal(t, "            Tel: 02-555-0199", lines[3])
	assert.Equal(t, "Factura: FAC-000042", lines[5])
	assert.Equal(t, "Fecha:   05/03/2026 14:30", lines[6])
	assert.Equal(t, "Cliente: Consumidor Final", lines[7])
	assert.Equal(t, "Pago:    Efectivo", lines[8])
	assert.Equal(t, "Producto           Cant  Precio  Subtot.", lines[10])
	assert.Equal(t, "Martillo              2 $850.00 $1700.00", lines[12])
	assert.Equal(t, `Brocha 3"             1 $320.00  $320.00`, lines[13])
	assert.Equal(t, "TOTAL:                          $2020.00", lines[15])
	assert.Equal(t, "         Gracias por su compra!", lines[17])

	for i, line := range lines {
		assert.LessOrEqual(t, utf8.RuneCountInString(line), 40, "line %d exceeds 40 columns: %q", i, line)
	}
}

func TestRenderIsByteIdenticalAcrossCalls(t *testing.T) {
	gen := testGenerator()
	sale := testSale()

	first := gen.Render(sale, "")
	second := gen.Render(sale, "")
	assert.Equal(t, first, second)
}

func TestRenderNamedCustomer(t *testing.T) {
	ticket := testGenerator().Render(testSale(), "Carlos Mendoza")
	assert.Contains(t, string(ticket), "Cliente: Carlos Mendoza")
	assert.NotContains(t, string(ticket), "Consumidor Final")
}

func TestRenderTruncatesLongProductName(t *testing.T) {
	sale := testSale()
	sale.Items = []domain.SaleLineItem{
		{ProductID: 9, ProductName: "Pintura Latex Blanco Galon", Qty: 1, UnitPriceCents: 198000},
	}
	sale.TotalCents = 198000

	ticket := testGenerator().Render(sale, "")
	lines := strings.Split(string(ticket), "\n")
	itemLine := lines[12]

	assert.True(t, strings.HasPrefix(itemLine, "Pintura Latex Blan "))
	assert.NotContains(t, itemLine, "Galon")
}

func TestRenderTruncatesMultibyteNameCleanly(t *testing.T) {
	sale := testSale()
	sale.Items = []domain.SaleLineItem{
		{ProductID: 9, ProductName: "Cinta aislante tañida 3M", Qty: 1, UnitPriceCents: 10000},
	}
	sale.TotalCents = 10000

	ticket := testGenerator().Render(sale, "")
	require.True(t, utf8.Valid(ticket))

	lines := strings.Split(string(ticket), "\n")
	itemLine := lines[12]

	// The 18th rune is the ñ; it must survive whole, with the table
	// still aligned at 40 columns.
	assert.True(t, strings.HasPrefix(itemLine, "Cinta aislante tañ "))
	assert.Equal(t, 40, utf8.RuneCountInString(itemLine))
}

func TestRenderCentersAccentedHeader(t *testing.T) {
	gen := NewGenerator(StoreInfo{Name: "FERRETERÍA MARTÍNEZ"})
	lines := strings.Split(string(gen.Render(testSale(), "")), "\n")

	// 19 runes centered in 40 columns leaves 10 leading spaces.
	assert.Equal(t, strings.Repeat(" ", 10)+"FERRETERÍA MARTÍNEZ", lines[1])
}

func TestRenderPaymentLabels(t *testing.T) {
	gen := testGenerator()
	for method, label := range map[string]string{
		domain.PaymentCash:     "Efectivo",
		domain.PaymentCard:     "Tarjeta",
		domain.PaymentTransfer: "Transferencia",
	} {
		sale := testSale()
		sale.PaymentMethod = method
		assert.Contains(t, string(gen.Render(sale, "")), "Pago:    "+label)
	}
}

func TestMoneyFormatting(t *testing.T) {
	assert.Equal(t, "$0.05", money(5))
	assert.Equal(t, "$1.00", money(100))
	assert.Equal(t, "$850.00", money(85000))
	assert.Equal(t, "$1234.56", money(123456))
	assert.Equal(t, "-$3.50", money(-350))
}

func TestFilename(t *testing.T) {
	sale := testSale()
	assert.Equal(t, "recibo_FAC-000042_20260305.txt", Filename(sale))
}
