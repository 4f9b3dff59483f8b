package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (*domain.Balance, error) {
	var balance domain.Balance
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, amount, version, created_at, updated_at
		 FROM balances WHERE user_id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, balance *domain.Balance) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO balances (id, user_id, amount, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		balance.ID,
		balance.UserID,
		balance.Amount,
		balance.Version,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, balance *domain.Balance) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE balances
		 SET amount = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balance.Amount,
		balance.UpdatedAt,
		balance.ID,
		balance.Version,
	)
	if err := db.Versioned(res); err != nil {
		return err
	}
	balance.Version++
	return nil
}
