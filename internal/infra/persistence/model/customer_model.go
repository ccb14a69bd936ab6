package model

import (
	"time"

	"shopdesk/internal/domain/entity"

	"github.com/google/uuid"
)

// CustomerModel mirrors the 'customers' table.
type CustomerModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name      string    `gorm:"type:varchar(100)"`
	CreatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (CustomerModel) TableName() string {
	return "customers"
}

func (m *CustomerModel) ToEntity() *entity.Customer {
	return &entity.Customer{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt}
}

func FromCustomer(c *entity.Customer) *CustomerModel {
	return &CustomerModel{ID: c.ID, Email: c.Email, Name: c.Name, CreatedAt: c.CreatedAt}
}
