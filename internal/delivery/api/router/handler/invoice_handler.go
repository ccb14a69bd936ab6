package handler

import (
	"log/slog"
	"net/http"

	"shopdesk/internal/delivery/api/response"
	"shopdesk/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// InvoiceHandlerParams holds dependencies for InvoiceHandler, injected by Fx.
type InvoiceHandlerParams struct {
	fx.In

	BillingUC usecase.BillingUsecase
	Logger    *slog.Logger
}

// InvoiceHandler holds dependencies for billing handlers
type InvoiceHandler struct {
	billingUC usecase.BillingUsecase
	logger    *slog.Logger
}

// NewInvoiceHandler is the constructor for InvoiceHandler
func NewInvoiceHandler(params InvoiceHandlerParams) *InvoiceHandler {
	return &InvoiceHandler{
		billingUC: params.BillingUC,
		logger:    params.Logger,
	}
}

// IssueInvoiceRequest represents the request body for issuing an invoice
type IssueInvoiceRequest struct {
	CustomerEmail string               `json:"customer_email" validate:"required,email"`
	CustomerName  string               `json:"customer_name" validate:"max=200"`
	Items         []InvoiceItemRequest `json:"items" validate:"required,min=1,dive"`
}

// InvoiceItemRequest is one requested invoice line
type InvoiceItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// IssueInvoice handles billing a customer
func (h *InvoiceHandler) IssueInvoice(c echo.Context) error {
	var req IssueInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid invoice input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_ERROR", err.Error())
	}

	items := make([]usecase.InvoiceItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, usecase.InvoiceItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	invoice, err := h.billingUC.IssueInvoice(c.Request().Context(), usecase.IssueInvoiceInput{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Items:         items,
	})
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusCreated, invoice)
}
