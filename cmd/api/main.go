package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zizouhuweidi/ilm/internal/cache"
	"github.com/zizouhuweidi/ilm/internal/config"
	"github.com/zizouhuweidi/ilm/internal/database"
	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/gateway/memory"
	"github.com/zizouhuweidi/ilm/internal/gateway/postgres"
	"github.com/zizouhuweidi/ilm/internal/handler"
	"github.com/zizouhuweidi/ilm/internal/logger"
	"github.com/zizouhuweidi/ilm/internal/service"
	"github.com/zizouhuweidi/ilm/internal/storage"
	"github.com/zizouhuweidi/ilm/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logg.Sync()

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal("server stopped with error", "error", err)
	}
	logg.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	// Initialize the persistence gateway
	store, closeStore, err := openStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize Redis when configured; without it the process runs standalone
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logg.Warn("redis not configured: leaderboard cache, rate limiting and cross-instance events are disabled")
	}

	// Initialize image storage
	images, err := storage.NewImageStorage(cfg.UploadDir)
	if err != nil {
		return errors.Wrap(err, "initializing image storage")
	}

	// Initialize websocket hub
	hub := websocket.NewHub(logg)

	var (
		lbCache   service.LeaderboardCache
		publisher domain.EventPublisher = hub
		bus       *cache.Bus
		promoOpts = []service.PromocodeOption{service.WithMaxRedeemRetries(cfg.Promo.MaxRedeemRetries)}
	)
	if redisClient != nil {
		lbCache = cache.NewLeaderboardCache(redisClient, cfg.LeaderboardCacheTTL)
		bus = cache.NewBus(redisClient, logg)
		publisher = bus
		promoOpts = append(promoOpts, service.WithRateLimiter(
			cache.NewRateLimiter(redisClient, cfg.Promo.RedeemRateLimit, cache.DefaultRateWindow),
		))
	}

	// Initialize services
	access := service.NewAccessService(store, cfg.PromocodeGating)
	identity := service.NewIdentityService(store, cfg.Auth.SigningSecret, cfg.Auth.TokenLifetime, logg)
	catalog := service.NewCatalogService(store, access, logg)
	leaderboard := service.NewLeaderboardService(store, lbCache, publisher, logg)
	quiz := service.NewQuizService(store, access, logg,
		service.WithSampleSize(cfg.Quiz.PoolSampleSize),
		service.WithLeaderboard(leaderboard),
	)
	promocodes := service.NewPromocodeService(store, logg, promoOpts...)

	if err := ensureAdmin(ctx, identity, cfg.Admin, logg); err != nil {
		return err
	}

	e := handler.NewServer(handler.Deps{
		Store:       store,
		Identity:    identity,
		Access:      access,
		Catalog:     catalog,
		Quiz:        quiz,
		Promocodes:  promocodes,
		Leaderboard: leaderboard,
		Hub:         hub,
		Images:      images,
		Log:         logg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if bus != nil {
		g.Go(func() error {
			return bus.Relay(gctx, hub.Publish)
		})
	}
	g.Go(func() error {
		logg.Info("starting server", "addr", cfg.Addr, "env", cfg.Env, "store", cfg.Store)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (gateway.Gateway, func(), error) {
	if cfg.Store == "memory" {
		logg.Warn("using in-memory store; data is lost on restart")
		return memory.NewWithSchema(), func() {}, nil
	}

	url, err := cfg.DatabaseURL()
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.ConnectPostgres(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.New(pool, logg), pool.Close, nil
}

func ensureAdmin(ctx context.Context, identity *service.IdentityService, admin config.Admin, logg *logger.Logger) error {
	if admin.Email == "" {
		return nil
	}
	_, err := identity.CreateAdministrator(ctx, "admin", admin.Email, admin.Password, domain.RoleSuperAdmin)
	if domain.KindOf(err) == domain.KindConflict {
		logg.Debug("administrator already exists", "email", admin.Email)
		return nil
	}
	return errors.Wrap(err, "ensuring administrator")
}
