package impl

import (
	"context"
	"log/slog"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/domain/entity"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/model"
	"shopdesk/internal/infra/persistence/postgres"
	"shopdesk/internal/infra/persistence/uow"
	"shopdesk/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ServiceParams defines the dependencies shared by the use case services
type ServiceParams struct {
	fx.In

	Units   *uow.Provider
	Logger  *slog.Logger
	Metrics usecase.UseCaseMetrics `optional:"true"`
}

type catalogService struct {
	units   *uow.Provider
	logger  *slog.Logger
	metrics usecase.UseCaseMetrics
}

// NewCatalogService creates a new catalog service instance
func NewCatalogService(params ServiceParams) usecase.CatalogUsecase {
	return &catalogService{
		units:   params.Units,
		logger:  params.Logger,
		metrics: params.Metrics,
	}
}

// RegisterProduct adds a product to the catalog. SKUs are unique.
func (s *catalogService) RegisterProduct(ctx context.Context, input usecase.RegisterProductInput) (out *entity.Product, err error) {
	defer observe(s.metrics, "register_product", time.Now(), &err)

	product, err := entity.NewProduct(input.SKU, input.Name, input.PriceCents)
	if err != nil {
		return nil, err
	}

	err = s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		products := uow.For[model.ProductModel](u)

		taken, err := products.Query().Where("sku = ?", product.SKU).Count(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to check sku")
		}
		if taken > 0 {
			return domainerrors.ErrDuplicateSKU.WithDetails(product.SKU)
		}

		row := model.FromProduct(product)
		if err := products.Add(ctx, row); err != nil {
			return errors.Wrap(err, "failed to add product")
		}
		if _, err := u.SaveChanges(ctx); err != nil {
			// Lost a race with another registration of the same sku.
			if postgres.IsUniqueViolation(err) {
				return domainerrors.ErrDuplicateSKU.WithDetails(product.SKU)
			}

			return errors.Wrap(err, "failed to save product")
		}
		out = row.ToEntity()

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Product registered", slog.String("sku", out.SKU), slog.String("id", out.ID.String()))

	return out, nil
}

// GetProduct returns a product by id.
func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (out *entity.Product, err error) {
	defer observe(s.metrics, "get_product", time.Now(), &err)

	err = s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		row, err := loadProduct(ctx, u, id)
		if err != nil {
			return err
		}
		out = row.ToEntity()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListProducts returns one page of the catalog ordered by sku.
func (s *catalogService) ListProducts(ctx context.Context, input usecase.ListProductsInput) (out *usecase.ListProductsOutput, err error) {
	defer observe(s.metrics, "list_products", time.Now(), &err)

	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset := max(input.Offset, 0)

	err = s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		query := uow.For[model.ProductModel](u).Query()

		rows, err := query.Order("sku").Limit(limit).Offset(offset).Find(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list products")
		}
		total, err := query.Count(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to count products")
		}

		out = &usecase.ListProductsOutput{
			Products: make([]*entity.Product, 0, len(rows)),
			Total:    total,
		}
		for _, row := range rows {
			out.Products = append(out.Products, row.ToEntity())
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// RepriceProduct changes a product's price. A stale ExpectedVersion or a
// concurrent writer surfaces ErrConcurrencyConflict.
func (s *catalogService) RepriceProduct(ctx context.Context, input usecase.RepriceProductInput) (out *entity.Product, err error) {
	defer observe(s.metrics, "reprice_product", time.Now(), &err)

	err = s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		row, err := loadProduct(ctx, u, input.ProductID)
		if err != nil {
			return err
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != row.Version {
			return domainerrors.ErrConcurrencyConflict.WithDetails("product was changed since it was read")
		}

		product := row.ToEntity()
		if err := product.Reprice(input.PriceCents); err != nil {
			return err
		}
		row.PriceCents = product.PriceCents

		if err := uow.For[model.ProductModel](u).Update(ctx, row); err != nil {
			return errors.Wrap(err, "failed to update product")
		}
		if _, err := u.SaveChanges(ctx); err != nil {
			return errors.Wrap(err, "failed to save product")
		}
		out = row.ToEntity()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// RemoveProduct deletes a product from the catalog.
func (s *catalogService) RemoveProduct(ctx context.Context, id uuid.UUID) (err error) {
	defer observe(s.metrics, "remove_product", time.Now(), &err)

	return s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		row, err := loadProduct(ctx, u, id)
		if err != nil {
			return err
		}
		if err := uow.For[model.ProductModel](u).Delete(ctx, row); err != nil {
			return errors.Wrap(err, "failed to delete product")
		}
		if _, err := u.SaveChanges(ctx); err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return domainerrors.ErrProductInUse.WithDetails(id.String())
			}

			return errors.Wrap(err, "failed to save product removal")
		}

		return nil
	})
}

func loadProduct(ctx context.Context, u *uow.UnitOfWork, id uuid.UUID) (*model.ProductModel, error) {
	row, found, err := uow.For[model.ProductModel](u).GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load product")
	}
	if !found {
		return nil, domainerrors.ErrProductNotFound.WithDetails(id.String())
	}

	return row, nil
}

func observe(metrics usecase.UseCaseMetrics, name string, start time.Time, err *error) {
	if metrics == nil {
		return
	}
	metrics.RecordUseCaseExecution(name, *err == nil, time.Since(start))
}
