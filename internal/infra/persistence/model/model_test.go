package model

import (
	"testing"
	"time"

	"shopdesk/internal/domain/entity"
	"shopdesk/internal/infra/persistence/postgres"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 4, r.Len())
	assert.Len(t, All(), r.Len())
}

func TestProductModelIsVersioned(t *testing.T) {
	var m any = &ProductModel{Version: 3}

	v, ok := m.(postgres.Versioned)
	require.True(t, ok)
	v.SetRowVersion(4)
	assert.Equal(t, int64(4), v.RowVersion())
}

func TestProductConversion(t *testing.T) {
	p, err := entity.NewProduct("sku-1", "Carafe", 2200)
	require.NoError(t, err)

	m := FromProduct(p)
	assert.Equal(t, p, m.ToEntity())
}

func TestFromInvoice(t *testing.T) {
	inv, err := entity.NewInvoice("INV-7", uuid.New(), []entity.InvoiceLine{
		{ProductID: uuid.New(), Quantity: 3, UnitPriceCents: 100},
	}, time.Now())
	require.NoError(t, err)

	header, lines := FromInvoice(inv)
	assert.Equal(t, int64(300), header.TotalCents)
	require.Len(t, lines, 1)
	assert.Equal(t, inv.ID, lines[0].InvoiceID)
}
