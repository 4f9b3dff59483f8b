package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product stock is split into what is physically held and what pending
// orders have reserved: 0 <= ReservedStock <= Stock.
type Product struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	Name          string          `json:"name" gorm:"type:varchar(255);not null;index"`
	Description   *string         `json:"description,omitempty" gorm:"type:text"`
	Price         decimal.Decimal `json:"price" gorm:"type:numeric(19,2);not null"`
	Stock         int             `json:"stock" gorm:"not null;default:0"`
	ReservedStock int             `json:"reserved_stock" gorm:"not null;default:0"`
	Version       int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (p *Product) Available() int {
	return p.Stock - p.ReservedStock
}

func (p *Product) HasStock(quantity int) bool {
	return p.Available() >= quantity
}

// Reserve holds quantity for a pending order without removing it from stock.
func (p *Product) Reserve(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !p.HasStock(quantity) {
		return ErrOutOfStock
	}
	p.ReservedStock += quantity
	return nil
}

// ConfirmReservation turns a reservation into a sale.
func (p *Product) ConfirmReservation(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.ReservedStock < quantity || p.Stock < quantity {
		return ErrInvalidReservation
	}
	p.Stock -= quantity
	p.ReservedStock -= quantity
	return nil
}

func (p *Product) CancelReservation(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.ReservedStock < quantity {
		return ErrInvalidReservation
	}
	p.ReservedStock -= quantity
	return nil
}

// RestoreReservation undoes ConfirmReservation.
func (p *Product) RestoreReservation(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.ReservedStock += quantity
	return nil
}

// StockStatus is the cached stock view of a product.
type StockStatus struct {
	ProductID snowflake.ID `json:"product_id"`
	Stock     int          `json:"stock"`
	Reserved  int          `json:"reserved"`
	Available int          `json:"available"`
}

// PopularProduct is a product with the quantity sold over a ranking window.
type PopularProduct struct {
	Product
	SoldQuantity int64 `json:"sold_quantity"`
}
