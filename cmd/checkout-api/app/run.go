package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/allinbloomus-wq/allinbloom/configs"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/cache"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/delivery"
	httpadapter "github.com/allinbloomus-wq/allinbloom/internal/adapter/http"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/http/middleware"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/kafka"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/payment"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/queue"
	"github.com/allinbloomus-wq/allinbloom/internal/adapter/repo"
	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/logging"
	"github.com/allinbloomus-wq/allinbloom/internal/security"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

type App struct {
	Router *gin.Engine
}

func InitWithConfig(cfg configs.Config) (*App, func(), error) {
	logging.Init(cfg.App.Name, "./logs/app.log")
	l := logging.New("app")

	// init database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	cancel()

	l.Info("checkout-api: starting up")

	// init redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, nil, err
	}

	// init rabbitmq for the paid-notification publisher
	conn, err := amqp091.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	notifier, err := queue.NewRabbitNotifier(ch, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey)
	if err != nil {
		return nil, nil, err
	}

	// init kafka audit trail
	saramaProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, nil, err
	}
	audit := kafka.NewAuditProducer(saramaProducer, cfg.Kafka.AuditTopic)

	// repositories
	orderRepo := repo.NewMySQLOrderRepo(db)
	eventRepo := repo.NewMySQLWebhookEventRepo(db)
	catalogRepo := repo.NewMySQLCatalogRepo(db)
	customerRepo := repo.NewMySQLCustomerRepo(db)
	locker := repo.NewMySQLAdvisoryLocker(db)

	// redis-backed infrastructure
	statusCache := cache.NewRedisStatusCache(rdb, cfg.StatusCache.TTL)
	limiter := cache.NewRedisRateLimiter(rdb)

	// payment gateways
	stripeGW := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	paypalGW := payment.NewPayPalGateway(cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID, cfg.PayPal.Env)
	gateways := map[domain.Provider]usecase.PaymentGateway{
		domain.ProviderStripe: stripeGW,
		domain.ProviderPayPal: paypalGW,
	}

	tokens := security.NewTokenService(cfg.Security.AuthSecret, cfg.Security.Issuer, cfg.Security.CancelTokenTTL)
	quoter := delivery.NewGoogleMapsQuoter(cfg.Delivery.GoogleMapsAPIKey, cfg.Delivery.BaseAddress)
	cart := usecase.NewCartValidator(catalogRepo, int64(cfg.Custom.MinPriceCents), int64(cfg.Custom.MaxPriceCents))

	// usecases
	checkoutUC := usecase.NewCheckout(catalogRepo, cart, quoter, orderRepo, customerRepo, gateways, tokens, cfg.SiteURL())
	sweeper := usecase.NewExpirySweeper(orderRepo, locker, audit, cfg.Expiry.WithSession, cfg.Expiry.WithoutSession)
	cancelUC := usecase.NewCancellation(orderRepo, gateways, tokens, statusCache)
	statusUC := usecase.NewStatusQuery(orderRepo, gateways, tokens, statusCache, sweeper)
	ingestor := usecase.NewWebhookIngestor(eventRepo, orderRepo, gateways, notifier, audit, statusCache)
	captureUC := usecase.NewWalletCapture(orderRepo, paypalGW, notifier, audit, statusCache)

	// periodic sweep, one instance at a time via the advisory lock
	sweepCtx, stopSweep := context.WithCancel(logging.WithCtx(context.Background(), logging.New("sweeper")))
	go sweeper.Run(sweepCtx, cfg.Expiry.SweepInterval)

	// handlers + router
	identity := middleware.NewIdentity(tokens)
	checkoutHandler := httpadapter.NewCheckoutHandler(checkoutUC, cancelUC, statusUC)
	webhookHandler := httpadapter.NewWebhookHandler(ingestor, captureUC, stripeGW, paypalGW)
	router := httpadapter.NewRouter(checkoutHandler, webhookHandler, identity, limiter, httpadapter.RateLimits{
		CheckoutPerMinute: cfg.RateLimit.CheckoutPerMinute,
		WebhookPerMinute:  cfg.RateLimit.WebhookPerMinute,
		Window:            cfg.RateLimit.Window,
	})

	cleanup := func() {
		stopSweep()
		_ = saramaProducer.Close()
		_ = ch.Close()
		_ = conn.Close()
		_ = rdb.Close()
		_ = db.Close()
	}

	return &App{Router: router}, cleanup, nil
}
