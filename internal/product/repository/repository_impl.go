package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/product/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
	"gorm.io/gorm"
)

const productColumns = `id, name, description, price, stock, reserved_stock, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.Stock,
		p.ReservedStock,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := conn.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindByIDs(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*domain.Product
	err := conn.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products WHERE id IN ? ORDER BY id ASC`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, page pagination.Page) ([]*domain.Product, error) {
	var items []*domain.Product
	err := conn.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products ORDER BY id ASC LIMIT ? OFFSET ?`,
		page.Fetch(),
		page.Offset,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE products
		 SET name = ?, description = ?, price = ?, stock = ?, reserved_stock = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name,
		p.Description,
		p.Price,
		p.Stock,
		p.ReservedStock,
		p.UpdatedAt,
		p.ID,
		p.Version,
	)
	if err := db.Versioned(res); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, p *domain.Product) error {
	res := conn.WithContext(ctx).Exec(
		`DELETE FROM products WHERE id = ? AND version = ?`,
		p.ID,
		p.Version,
	)
	return db.Versioned(res)
}
