package migration

import (
	balancedomain "github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/internal/config"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	orderdomain "github.com/smallbiznis/checkout/internal/order/domain"
	productdomain "github.com/smallbiznis/checkout/internal/product/domain"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&balancedomain.Balance{},
		&productdomain.Product{},
		&coupondomain.Coupon{},
		&coupondomain.CouponHistory{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&orderdomain.Payment{},
		&outbox.Record{},
	}
}

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")

		if cfg.DBType != "postgres" {
			// golang-migrate scripts are postgres only.
			log.Info("auto migrating schema", zap.String("db_type", cfg.DBType))
			return conn.AutoMigrate(Models()...)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
