package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/invoice/domain"
)

const dateLayout = "02 Jan 2006"

// Renderer turns a stored invoice into a PDF document.
type Renderer interface {
	Render(invoice domain.Invoice) ([]byte, error)
}

type Options struct {
	Issuer       string
	CurrencySign string
}

type PDFRenderer struct {
	opts Options
}

func NewRenderer() Renderer {
	return &PDFRenderer{opts: Options{Issuer: "InvoicePay", CurrencySign: "Rs."}}
}

func NewRendererWithOptions(opts Options) *PDFRenderer {
	return &PDFRenderer{opts: opts}
}

// Render produces an invoice, or a receipt once the invoice has been paid.
func (r *PDFRenderer) Render(invoice domain.Invoice) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	title := "Invoice"
	if isSettled(invoice.Status) {
		title = "Receipt"
	}

	m.AddRow(12,
		text.NewCol(8, title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, r.opts.Issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+formatDate(time.Time(invoice.Date)), props.Text{Top: 4}),
			text.New("Date due: "+formatDate(time.Time(invoice.DueDate)), props.Text{Top: 8}),
			text.New("Status: "+statusLabel(invoice.Status), props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(invoice.ClientName, props.Text{Top: 5}),
			text.New(invoice.ClientAddress, props.Text{Top: 9}),
			text.New(invoice.ClientEmail, props.Text{Top: 13}),
			text.New(invoice.ClientPhone, props.Text{Top: 17}),
		),
	)

	if pid := invoice.CurrentPaymentID(); pid != "" {
		m.AddRow(8,
			text.NewCol(12, "Payment reference: "+pid, props.Text{Size: 9}),
		)
	}

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range invoice.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, r.money(item.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, r.money(item.Amount()), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, r.money(invoice.Subtotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, fmt.Sprintf("Tax (%s%%)", invoice.TaxRate.String()), props.Text{Size: 9}),
		text.NewCol(2, r.money(invoice.Tax), props.Text{Size: 9, Align: align.Right}),
	)

	dueLabel := "Amount due"
	if isSettled(invoice.Status) {
		dueLabel = "Amount paid"
	}
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, dueLabel, props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, r.money(invoice.Total), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func (r *PDFRenderer) money(amount decimal.Decimal) string {
	return strings.TrimSpace(r.opts.CurrencySign + " " + amount.StringFixed(2))
}

func isSettled(status domain.Status) bool {
	return domain.NormalizeStatus(string(status)) == domain.StatusPaid
}

func statusLabel(status domain.Status) string {
	label := strings.ReplaceAll(string(domain.NormalizeStatus(string(status))), "_", " ")
	if label == "" {
		return string(domain.StatusCreated)
	}
	return label
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}
