package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/apperror"
)

type CreateUserRequest struct {
	Name string
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	Get(ctx context.Context, id snowflake.ID) (User, error)
	// EnsureExists returns ErrUserNotFound for unknown ids.
	EnsureExists(ctx context.Context, id snowflake.ID) error
}

var (
	ErrUserNotFound  = apperror.New(apperror.KindNotFound, "U001", "user_not_found")
	ErrInvalidUserID = apperror.New(apperror.KindInvalidArgument, "U002", "invalid_user_id")
	ErrInvalidName   = apperror.New(apperror.KindInvalidArgument, "V001", "invalid_name")
)
