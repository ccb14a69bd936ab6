package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"shopdesk/internal/delivery/api/response"
	"shopdesk/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// ProductHandlerParams holds dependencies for ProductHandler, injected by Fx.
type ProductHandlerParams struct {
	fx.In

	CatalogUC usecase.CatalogUsecase
	Logger    *slog.Logger
}

// ProductHandler holds dependencies for catalog handlers
type ProductHandler struct {
	catalogUC usecase.CatalogUsecase
	logger    *slog.Logger
}

// NewProductHandler is the constructor for ProductHandler
func NewProductHandler(params ProductHandlerParams) *ProductHandler {
	return &ProductHandler{
		catalogUC: params.CatalogUC,
		logger:    params.Logger,
	}
}

// RegisterProductRequest represents the request body for adding a product
type RegisterProductRequest struct {
	SKU        string `json:"sku" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

// RepriceProductRequest represents the request body for changing a price
type RepriceProductRequest struct {
	PriceCents      int64  `json:"price_cents" validate:"gte=0"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
}

// RegisterProduct handles adding a product to the catalog
func (h *ProductHandler) RegisterProduct(c echo.Context) error {
	var req RegisterProductRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid product input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_ERROR", err.Error())
	}

	product, err := h.catalogUC.RegisterProduct(c.Request().Context(), usecase.RegisterProductInput{
		SKU:        req.SKU,
		Name:       req.Name,
		PriceCents: req.PriceCents,
	})
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusCreated, product)
}

// GetProduct handles retrieving a single product
func (h *ProductHandler) GetProduct(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "INVALID_ID", "Invalid product ID")
	}

	product, err := h.catalogUC.GetProduct(c.Request().Context(), id)
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, product)
}

// ListProducts handles paging through the catalog
func (h *ProductHandler) ListProducts(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return response.BadRequest(c, "INVALID_QUERY", "limit must be an integer")
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return response.BadRequest(c, "INVALID_QUERY", "offset must be an integer")
	}

	out, err := h.catalogUC.ListProducts(c.Request().Context(), usecase.ListProductsInput{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, response.Page{
		Items:  out.Products,
		Total:  out.Total,
		Limit:  limit,
		Offset: offset,
	})
}

// RepriceProduct handles a price change
func (h *ProductHandler) RepriceProduct(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "INVALID_ID", "Invalid product ID")
	}

	var req RepriceProductRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid price input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_ERROR", err.Error())
	}

	product, err := h.catalogUC.RepriceProduct(c.Request().Context(), usecase.RepriceProductInput{
		ProductID:       id,
		PriceCents:      req.PriceCents,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, product)
}

// RemoveProduct handles deleting a product
func (h *ProductHandler) RemoveProduct(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "INVALID_ID", "Invalid product ID")
	}

	if err := h.catalogUC.RemoveProduct(c.Request().Context(), id); err != nil {
		return response.HandleAppError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}
