// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"strings"
	"time"

	domainerrors "shopdesk/internal/domain/errors"

	"github.com/google/uuid"
)

// Product is an item the shop sells.
type Product struct {
	ID         uuid.UUID `json:"id"`          // The Global Unique Identifier (GUID) for the product.
	SKU        string    `json:"sku"`         // Stock keeping unit printed on labels and barcodes.
	Name       string    `json:"name"`        // Display name.
	PriceCents int64     `json:"price_cents"` // Unit price in the smallest currency unit.
	Version    int64     `json:"version"`     // Row version used for optimistic concurrency.
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewProduct validates the input and returns a product with a fresh id.
func NewProduct(sku, name string, priceCents int64) (*Product, error) {
	sku = strings.TrimSpace(sku)
	name = strings.TrimSpace(name)

	switch {
	case sku == "":
		return nil, domainerrors.ErrInvalidInput.WithDetails("sku is required")
	case name == "":
		return nil, domainerrors.ErrInvalidInput.WithDetails("name is required")
	case priceCents < 0:
		return nil, domainerrors.ErrInvalidInput.WithDetails("price must not be negative")
	}

	return &Product{
		ID:         uuid.New(),
		SKU:        strings.ToUpper(sku),
		Name:       name,
		PriceCents: priceCents,
	}, nil
}

// Reprice changes the unit price.
func (p *Product) Reprice(priceCents int64) error {
	if priceCents < 0 {
		return domainerrors.ErrInvalidInput.WithDetails("price must not be negative")
	}
	p.PriceCents = priceCents

	return nil
}
