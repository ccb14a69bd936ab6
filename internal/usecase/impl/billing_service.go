package impl

import (
	"context"
	"log/slog"
	"strings"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/domain/entity"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/model"
	"shopdesk/internal/infra/persistence/postgres"
	"shopdesk/internal/infra/persistence/uow"
	"shopdesk/internal/usecase"

	"github.com/google/uuid"
)

type billingService struct {
	units   *uow.Provider
	logger  *slog.Logger
	metrics usecase.UseCaseMetrics
	now     func() time.Time
}

// NewBillingService creates a new billing service instance
func NewBillingService(params ServiceParams) usecase.BillingUsecase {
	return &billingService{
		units:   params.Units,
		logger:  params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}
}

// IssueInvoice bills a customer for the requested products at their current
// prices. Customer, header and lines are written in one transaction.
func (s *billingService) IssueInvoice(ctx context.Context, input usecase.IssueInvoiceInput) (out *entity.Invoice, err error) {
	defer observe(s.metrics, "issue_invoice", time.Now(), &err)

	if len(input.Items) == 0 {
		return nil, domainerrors.ErrInvalidInput.WithDetails("an invoice needs at least one line")
	}

	err = s.units.Execute(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		tx, err := u.BeginTransaction(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to begin transaction")
		}
		defer func() {
			if tx.State() != postgres.TxActive {
				return
			}
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.WarnContext(ctx, "Failed to roll back invoice transaction", slog.Any("error", rbErr))
			}
		}()

		customer, err := s.customerFor(ctx, u, input.CustomerEmail, input.CustomerName)
		if err != nil {
			return err
		}

		products := uow.For[model.ProductModel](u)
		lines := make([]entity.InvoiceLine, 0, len(input.Items))
		for _, item := range input.Items {
			row, found, err := products.GetByID(ctx, item.ProductID)
			if err != nil {
				return errors.Wrap(err, "failed to load product")
			}
			if !found {
				return domainerrors.ErrProductNotFound.WithDetails(item.ProductID.String())
			}
			lines = append(lines, entity.InvoiceLine{
				ProductID:      row.ID,
				Quantity:       item.Quantity,
				UnitPriceCents: row.PriceCents,
			})
		}

		issuedAt := s.now().UTC()
		invoice, err := entity.NewInvoice(invoiceNumber(issuedAt), customer.ID, lines, issuedAt)
		if err != nil {
			return err
		}

		header, lineRows := model.FromInvoice(invoice)
		if err := uow.For[model.InvoiceModel](u).Add(ctx, header); err != nil {
			return errors.Wrap(err, "failed to add invoice")
		}
		invoiceLines := uow.For[model.InvoiceLineModel](u)
		for _, line := range lineRows {
			if err := invoiceLines.Add(ctx, line); err != nil {
				return errors.Wrap(err, "failed to add invoice line")
			}
		}

		if _, err := u.SaveChanges(ctx); err != nil {
			// A product was removed after it was priced.
			if postgres.IsForeignKeyViolation(err) {
				return domainerrors.ErrProductNotFound.WithDetails("a product was removed while the invoice was issued")
			}

			return errors.Wrap(err, "failed to save invoice")
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit invoice")
		}
		out = invoice

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Invoice issued",
		slog.String("number", out.Number),
		slog.Int64("total_cents", out.TotalCents),
	)

	return out, nil
}

// customerFor finds the customer by email or schedules a new one.
func (s *billingService) customerFor(ctx context.Context, u *uow.UnitOfWork, email, name string) (*entity.Customer, error) {
	candidate, err := entity.NewCustomer(email, name)
	if err != nil {
		return nil, err
	}

	customers := uow.For[model.CustomerModel](u)
	existing, found, err := customers.Query().Where("email = ?", candidate.Email).First(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up customer")
	}
	if found {
		return existing.ToEntity(), nil
	}

	if err := customers.Add(ctx, model.FromCustomer(candidate)); err != nil {
		return nil, errors.Wrap(err, "failed to add customer")
	}

	return candidate, nil
}

func invoiceNumber(at time.Time) string {
	return "INV-" + at.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}
