// Command storeauth-server runs the storefront auth backend.
//
// Configuration comes from STOREAUTH_* environment variables (see
// server.Config). With STOREAUTH_DEV_MODE=true and no STOREAUTH_REDIS_ADDR an
// in-process Redis is started.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/brandmart/storeauth/internal/rate"
	"github.com/brandmart/storeauth/jwt"
	"github.com/brandmart/storeauth/password"
	"github.com/brandmart/storeauth/server"
	"github.com/brandmart/storeauth/server/accounts"
	"github.com/brandmart/storeauth/session"
	"github.com/brandmart/storeauth/tokenverify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, cfgErr := server.LoadConfig()

	var logger *zap.Logger
	if cfg.DevMode {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Fatal("failed to load config", zap.Error(cfgErr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, closeRedis := openRedis(cfg, logger)
	defer closeRedis()

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		logger.Fatal("failed to init password hasher", zap.Error(err))
	}

	store, err := accounts.Open(cfg.DatabaseDSN, hasher)
	if err != nil {
		logger.Fatal("failed to open account store", zap.String("dsn", cfg.DatabaseDSN), zap.Error(err))
	}
	defer store.Close()

	if cfg.BootstrapFile != "" {
		bf, err := accounts.LoadBootstrapFile(cfg.BootstrapFile)
		if err != nil {
			logger.Fatal("failed to load bootstrap file", zap.String("path", cfg.BootstrapFile), zap.Error(err))
		}
		created, err := store.Apply(ctx, bf)
		if err != nil {
			logger.Fatal("failed to apply bootstrap file", zap.Error(err))
		}
		logger.Info("bootstrap applied",
			zap.Int("accounts", len(bf.Accounts)),
			zap.Int("created", created),
		)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.SessionTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		logger.Fatal("failed to init session tokens", zap.Error(err))
	}

	deps := server.Deps{
		Accounts: store,
		Sessions: session.NewRegistry(rdb, cfg.RedisPrefix),
		Tokens:   tokens,
		Limiter: rate.New(rdb, rate.Config{
			EnableIPThrottle:      cfg.IPThrottle,
			MaxLoginAttempts:      cfg.MaxLoginAttempts,
			LoginCooldownDuration: cfg.LoginCooldown,
			MaxSyncAttempts:       cfg.MaxSyncAttempts,
			SyncWindow:            cfg.SyncWindow,
		}),
		Logger: logger,
	}

	if cfg.FirebaseProjectID != "" {
		v, err := tokenverify.New(ctx, tokenverify.Config{
			ProjectID: cfg.FirebaseProjectID,
			Issuer:    cfg.FirebaseIssuer,
			JWKSURL:   cfg.FirebaseJWKSURL,
		})
		if err != nil {
			logger.Fatal("failed to init identity token verifier", zap.Error(err))
		}
		deps.Verifier = v
	} else {
		logger.Warn("STOREAUTH_FIREBASE_PROJECT_ID not set, identity-token endpoints disabled")
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	logger.Info("storeauth server starting",
		zap.String("addr", cfg.Addr),
		zap.Bool("dev_mode", cfg.DevMode),
		zap.Bool("identity_tokens", deps.Verifier != nil),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("storeauth server stopped")
}

func openRedis(cfg server.Config, logger *zap.Logger) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal("failed to start in-process redis", zap.Error(err))
		}
		logger.Warn("using in-process redis, sessions do not survive restarts", zap.String("addr", mr.Addr()))
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }
}
