package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
)

type ItemRequest struct {
	ProductID snowflake.ID `json:"product_id"`
	Quantity  int          `json:"quantity"`
}

type CreateRequest struct {
	UserID snowflake.ID  `json:"-"`
	Items  []ItemRequest `json:"items"`
}

type PayRequest struct {
	UserID   snowflake.ID  `json:"user_id"`
	OrderID  snowflake.ID  `json:"-"`
	CouponID *snowflake.ID `json:"coupon_id,omitempty"`
}

type PayResult struct {
	Order   Order   `json:"order"`
	Payment Payment `json:"payment"`
}

type ListResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Order, error)
	Pay(ctx context.Context, req PayRequest) (PayResult, error)
	Cancel(ctx context.Context, userID, orderID snowflake.ID) (Order, error)
	Get(ctx context.Context, userID, orderID snowflake.ID) (Order, error)
	List(ctx context.Context, userID snowflake.ID, page pagination.Page) (ListResponse, error)
}

var (
	ErrOrderNotFound      = apperror.New(apperror.KindNotFound, "O001", "order_not_found")
	ErrInvalidOrderStatus = apperror.New(apperror.KindBusinessRule, "O002", "invalid_order_status")
	ErrOrderAlreadyPaid   = apperror.New(apperror.KindBusinessRule, "O003", "order_already_paid")
	ErrInvalidOrderItems  = apperror.New(apperror.KindInvalidArgument, "O005", "invalid_order_items")
	ErrInvalidOrderID     = apperror.New(apperror.KindInvalidArgument, "V004", "invalid_order_id")
)
