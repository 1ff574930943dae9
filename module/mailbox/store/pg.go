package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"GotMail/logger"
	"GotMail/tools/errs"
)

var (
	pgOnce sync.Once
	pgPool *pgxpool.Pool
)

// Init 建立 Postgres 连接池并确保邮件库表结构存在（单例）。
func Init(ctx context.Context, dsn string) error {
	var initErr error
	pgOnce.Do(func() {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			initErr = errs.WrapMsg(err, "parse postgres dsn")
			return
		}
		cfg.MaxConns = 16
		cfg.MaxConnLifetime = time.Hour

		pool, err := pgxpool.New(ctx, cfg.ConnString())
		if err != nil {
			initErr = errs.WrapMsg(err, "create postgres pool")
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			initErr = errs.WrapMsg(err, "ping postgres")
			return
		}

		if err := ensureSchema(ctx, pool); err != nil {
			pool.Close()
			initErr = err
			return
		}

		pgPool = pool
		logger.Infof("[MailStore] postgres ready")
	})
	return initErr
}

// Pool 获取连接池, 未初始化时 panic, 和 redis.GetRedis 一个口径。
func Pool() *pgxpool.Pool {
	if pgPool == nil {
		panic("mail store not initialized, call store.Init first")
	}
	return pgPool
}

// Ready 是否已完成初始化
func Ready() bool {
	return pgPool != nil
}

func Close() {
	if pgPool != nil {
		pgPool.Close()
	}
}
