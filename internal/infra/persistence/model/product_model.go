package model

import (
	"time"

	"shopdesk/internal/domain/entity"

	"github.com/google/uuid"
)

// ProductModel mirrors the 'products' table. Ids are generated by the
// application so inserts need no RETURNING clause.
type ProductModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SKU        string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name       string    `gorm:"type:varchar(200);not null"`
	PriceCents int64     `gorm:"not null"`
	Version    int64     `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName explicitly sets the table name for GORM.
func (ProductModel) TableName() string {
	return "products"
}

// RowVersion is compared on update and delete.
func (m *ProductModel) RowVersion() int64 { return m.Version }

// SetRowVersion is called when an update is written.
func (m *ProductModel) SetRowVersion(version int64) { m.Version = version }

// ToEntity converts the row to the domain product.
func (m *ProductModel) ToEntity() *entity.Product {
	return &entity.Product{
		ID:         m.ID,
		SKU:        m.SKU,
		Name:       m.Name,
		PriceCents: m.PriceCents,
		Version:    m.Version,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// FromProduct converts a domain product to its row.
func FromProduct(p *entity.Product) *ProductModel {
	return &ProductModel{
		ID:         p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Version:    p.Version,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}
