package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the order together with its items.
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	// FindByID loads the order with its items.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Page) ([]*Order, error)
	// UpdateStatus is version-conditioned.
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPaymentByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
}
