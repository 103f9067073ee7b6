package data

import (
	"context"
	"fmt"
	"time"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"
	"media-dispatch-service/internal/data/model"

	"github.com/glebarez/sqlite"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewRedsync,
	NewData,
	NewTransaction,
	NewQueue,
	NewCreditRepo,
	NewJobRepo,
	NewStoryRepo,
	NewResourceLocker,
	NewLeaderLock,
)

// Data 数据层结构体
type Data struct {
	db        *gorm.DB
	rdb       *redis.Client
	txTimeout time.Duration
}

type contextTxKey struct{}

// NewDB 创建数据库连接
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	var dialector gorm.Dialector
	switch c.Data.Database.Driver {
	case "", constants.DBDriverMySQL:
		dialector = mysql.Open(c.Data.Database.Source)
	case constants.DBDriverPostgres:
		dialector = postgres.Open(c.Data.Database.Source)
	case constants.DBDriverSQLite:
		dialector = sqlite.Open(c.Data.Database.Source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Data.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if c.Data.Database.Driver == constants.DBDriverSQLite {
		// sqlite 单写者
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if c.Data.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.CreditAccount{},
		&model.CreditTransaction{},
		&model.Job{},
		&model.Story{},
		&model.Scene{},
	)
}

// NewRedis 创建 Redis 连接
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil {
		return nil, fmt.Errorf("redis config is nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           c.Data.Redis.Db,
		ReadTimeout:  c.Data.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Data.Redis.WriteTimeout.AsDuration(),
	})

	// 测试连接
	if err := rdb.Ping(rdb.Context()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewRedsync 创建 redsync（cron 单实例执行）
func NewRedsync(rdb *redis.Client) *redsync.Redsync {
	return redsync.New(goredis.NewPool(rdb))
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client) (*Data, func(), error) {
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
		if err := rdb.Close(); err != nil {
			log.NewHelper(logger).Errorf("failed to close redis: %v", err)
		}
	}

	txTimeout := constants.DefaultTxTimeout
	if c.Data != nil && c.Data.Database != nil {
		if t := c.Data.Database.TxTimeout.AsDuration(); t > 0 {
			txTimeout = t
		}
	}

	return &Data{
		db:        db,
		rdb:       rdb,
		txTimeout: txTimeout,
	}, cleanup, nil
}

// NewTransaction 暴露给 biz 的事务
func NewTransaction(d *Data) biz.Transaction {
	return d
}

// InTx 在事务中执行 fn，事务经 ctx 传递；ctx 中已有事务时直接加入
func (d *Data) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d.txTimeout)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// DB 返回 ctx 中的事务，没有则返回普通连接
func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}
