package entity

import (
	"time"

	domainerrors "shopdesk/internal/domain/errors"

	"github.com/google/uuid"
)

// Invoice is a bill issued to a customer for one or more products.
type Invoice struct {
	ID         uuid.UUID     `json:"id"`
	Number     string        `json:"number"`
	CustomerID uuid.UUID     `json:"customer_id"`
	Lines      []InvoiceLine `json:"lines"`
	TotalCents int64         `json:"total_cents"`
	IssuedAt   time.Time     `json:"issued_at"`
}

// InvoiceLine is one product on an invoice, priced at the time of issue.
type InvoiceLine struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// NewInvoice prices lines and totals the invoice.
func NewInvoice(number string, customerID uuid.UUID, lines []InvoiceLine, issuedAt time.Time) (*Invoice, error) {
	if len(lines) == 0 {
		return nil, domainerrors.ErrInvalidInput.WithDetails("an invoice needs at least one line")
	}

	var total int64
	for i := range lines {
		if lines[i].Quantity <= 0 {
			return nil, domainerrors.ErrInvalidInput.WithDetails("quantity must be positive")
		}
		if lines[i].ID == uuid.Nil {
			lines[i].ID = uuid.New()
		}
		total += int64(lines[i].Quantity) * lines[i].UnitPriceCents
	}

	return &Invoice{
		ID:         uuid.New(),
		Number:     number,
		CustomerID: customerID,
		Lines:      lines,
		TotalCents: total,
		IssuedAt:   issuedAt,
	}, nil
}
