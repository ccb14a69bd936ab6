package usecase

import (
	"context"
	"time"

	"shopdesk/internal/domain/entity"

	"github.com/google/uuid"
)

// InvoiceItem is one requested invoice line.
type InvoiceItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// IssueInvoiceInput defines the data required to bill a customer. The
// customer is created on first use of the email address.
type IssueInvoiceInput struct {
	CustomerEmail string
	CustomerName  string
	Items         []InvoiceItem
}

// BillingUsecase defines the interface for invoicing operations.
type BillingUsecase interface {
	IssueInvoice(ctx context.Context, input IssueInvoiceInput) (*entity.Invoice, error)
}

// UseCaseMetrics records use case executions.
type UseCaseMetrics interface {
	RecordUseCaseExecution(useCase string, success bool, d time.Duration)
}
