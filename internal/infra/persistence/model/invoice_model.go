package model

import (
	"time"

	"shopdesk/internal/domain/entity"

	"github.com/google/uuid"
)

// InvoiceModel mirrors the 'invoices' table. Lines are written through
// their own repository, so no association is declared here.
type InvoiceModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Number     string    `gorm:"type:varchar(32);uniqueIndex;not null"`
	CustomerID uuid.UUID `gorm:"type:uuid;not null;index"`
	TotalCents int64     `gorm:"not null"`
	IssuedAt   time.Time `gorm:"not null"`
}

// TableName explicitly sets the table name for GORM.
func (InvoiceModel) TableName() string {
	return "invoices"
}

// InvoiceLineModel mirrors the 'invoice_lines' table.
type InvoiceLineModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	InvoiceID      uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null"`
	Quantity       int       `gorm:"not null"`
	UnitPriceCents int64     `gorm:"not null"`
}

// TableName explicitly sets the table name for GORM.
func (InvoiceLineModel) TableName() string {
	return "invoice_lines"
}

// FromInvoice splits a domain invoice into its header and line rows.
func FromInvoice(inv *entity.Invoice) (*InvoiceModel, []*InvoiceLineModel) {
	header := &InvoiceModel{
		ID:         inv.ID,
		Number:     inv.Number,
		CustomerID: inv.CustomerID,
		TotalCents: inv.TotalCents,
		IssuedAt:   inv.IssuedAt,
	}

	lines := make([]*InvoiceLineModel, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, &InvoiceLineModel{
			ID:             l.ID,
			InvoiceID:      inv.ID,
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	return header, lines
}
