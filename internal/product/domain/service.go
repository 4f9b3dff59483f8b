package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
)

type CreateRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	ID          snowflake.ID     `json:"-"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
}

type ListResponse struct {
	pagination.PageInfo
	Products []Product `json:"products"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Product, error)
	Update(ctx context.Context, req UpdateRequest) (Product, error)
	Delete(ctx context.Context, id snowflake.ID) error
	Get(ctx context.Context, id snowflake.ID) (Product, error)
	List(ctx context.Context, page pagination.Page) (ListResponse, error)
	Stock(ctx context.Context, id snowflake.ID) (StockStatus, error)
	// Popular ranks products by quantity sold over the last days, today included.
	Popular(ctx context.Context, days, limit int) ([]PopularProduct, error)
	// Warmup caches the details of up to limit products and returns how many
	// were written.
	Warmup(ctx context.Context, limit int) (int, error)
}

var (
	ErrProductNotFound    = apperror.New(apperror.KindNotFound, "P001", "product_not_found")
	ErrOutOfStock         = apperror.New(apperror.KindOutOfStock, "P002", "product_out_of_stock")
	ErrInvalidProductID   = apperror.New(apperror.KindInvalidArgument, "P003", "invalid_product_id")
	ErrInvalidReservation = apperror.New(apperror.KindBusinessRule, "P005", "invalid_reservation")
	ErrInvalidQuantity    = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_quantity")
	ErrInvalidName        = apperror.New(apperror.KindInvalidArgument, "V001", "invalid_name")
	ErrInvalidPrice       = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_price")
	ErrInvalidPeriod      = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_period")
)
