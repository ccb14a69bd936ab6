// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"

	"shopdesk/internal/domain/entity"

	"github.com/google/uuid"
)

// --- Input DTOs ---

// RegisterProductInput defines the data required to add a product to the catalog.
type RegisterProductInput struct {
	SKU        string
	Name       string
	PriceCents int64
}

// RepriceProductInput changes the price of a product. ExpectedVersion, when
// set, must match the stored row version.
type RepriceProductInput struct {
	ProductID       uuid.UUID
	PriceCents      int64
	ExpectedVersion *int64
}

// ListProductsInput pages through the catalog ordered by SKU.
type ListProductsInput struct {
	Limit  int
	Offset int
}

// --- Output DTOs ---

// ListProductsOutput is one page of the catalog.
type ListProductsOutput struct {
	Products []*entity.Product
	Total    int64
}

// CatalogUsecase defines the interface for catalog business operations.
type CatalogUsecase interface {
	RegisterProduct(ctx context.Context, input RegisterProductInput) (*entity.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*entity.Product, error)
	ListProducts(ctx context.Context, input ListProductsInput) (*ListProductsOutput, error)
	RepriceProduct(ctx context.Context, input RepriceProductInput) (*entity.Product, error)
	RemoveProduct(ctx context.Context, id uuid.UUID) error
}
