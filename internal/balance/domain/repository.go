package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	Insert(ctx context.Context, db *gorm.DB, balance *Balance) error
	// Update writes amount if the stored version still equals balance.Version
	// and bumps the version on success.
	Update(ctx context.Context, db *gorm.DB, balance *Balance) error
}
