// Package model holds the GORM row types and their unit of work registrations.
package model

import (
	"shopdesk/internal/infra/persistence/uow"
)

// NewRegistry registers every model with its table so units of work cache
// one repository per model and session generation.
func NewRegistry() *uow.Registry {
	r := uow.NewRegistry()
	Register(r)

	return r
}

// Register adds the models to r.
func Register(r *uow.Registry) {
	uow.Register[ProductModel](r, uow.Descriptor{})
	uow.Register[CustomerModel](r, uow.Descriptor{})
	uow.Register[InvoiceModel](r, uow.Descriptor{})
	uow.Register[InvoiceLineModel](r, uow.Descriptor{})
}

// All lists the models in dependency order for migrations.
func All() []any {
	return []any{
		&ProductModel{},
		&CustomerModel{},
		&InvoiceModel{},
		&InvoiceLineModel{},
	}
}
