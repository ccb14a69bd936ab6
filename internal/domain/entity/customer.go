package entity

import (
	"net/mail"
	"strings"
	"time"

	domainerrors "shopdesk/internal/domain/errors"

	"github.com/google/uuid"
)

// Customer is someone invoices are issued to.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`      // Lower-cased, unique.
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCustomer validates the input and returns a customer with a fresh id.
func NewCustomer(email, name string) (*Customer, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, domainerrors.ErrInvalidInput.WithDetails("invalid email")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = addr.Name
	}

	return &Customer{
		ID:    uuid.New(),
		Email: strings.ToLower(addr.Address),
		Name:  name,
	}, nil
}
