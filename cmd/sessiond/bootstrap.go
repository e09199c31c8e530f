package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/statlane/authsession"
	"github.com/statlane/authsession/internal/config"
	exportprom "github.com/statlane/authsession/metrics/export/prometheus"
	"github.com/statlane/authsession/session"
	"github.com/statlane/authsession/userstore"
	"go.uber.org/zap"
)

type deps struct {
	auth    *authsession.Authenticator
	users   *userstore.PostgresRepository
	metrics http.Handler
	store   *session.Store
	rdb     *redis.Client
	db      *sql.DB
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	authCfg, err := cfg.AuthConfig()
	if err != nil {
		return nil, err
	}

	db, err := userstore.Open(ctx, cfg.DB.DSN, cfg.DB.AsPoolConfig())
	if err != nil {
		return nil, err
	}
	if cfg.DB.Migrate {
		if err := userstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	users := userstore.NewPostgresRepository(db)
	store := session.NewStore(rdb, authCfg.Refresh.RedisPrefix)
	auth, err := authsession.New().
		WithConfig(authCfg).
		WithRedis(rdb).
		WithRefreshStore(store).
		WithUserLookup(users).
		WithLogger(logger).
		WithAuditSink(authsession.NewZapSink(logger.Named("audit"))).
		Build()
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, err
	}

	metrics, err := exportprom.Handler(auth)
	if err != nil {
		auth.Close()
		_ = db.Close()
		_ = rdb.Close()
		return nil, err
	}

	return &deps{auth: auth, users: users, metrics: metrics, store: store, rdb: rdb, db: db}, nil
}

// Health fails when either backing store is unreachable.
func (d *deps) Health(ctx context.Context) error {
	_, storeErr := d.store.Ping(ctx)
	return errors.Join(storeErr, d.db.PingContext(ctx))
}

func (d *deps) Close() {
	d.auth.Close()
	_ = d.rdb.Close()
	_ = d.db.Close()
}
