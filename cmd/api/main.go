package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	_ "github.com/jhoicas/catalog-api/docs"
	"github.com/jhoicas/catalog-api/internal/application/reservation"
	"github.com/jhoicas/catalog-api/internal/application/usecase"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
	"github.com/jhoicas/catalog-api/internal/infrastructure/events"
	"github.com/jhoicas/catalog-api/internal/infrastructure/memory"
	"github.com/jhoicas/catalog-api/internal/infrastructure/metrics"
	"github.com/jhoicas/catalog-api/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/catalog-api/internal/infrastructure/redis"
	"github.com/jhoicas/catalog-api/internal/infrastructure/tracing"
	httpRouter "github.com/jhoicas/catalog-api/internal/interfaces/http"
	"github.com/jhoicas/catalog-api/pkg/config"
	"github.com/jhoicas/catalog-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.App.StoreDriver).
		Msg("iniciando aplicación")

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.App.Name, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar tracing")
	}

	checks := map[string]httpRouter.HealthCheck{}

	// Almacén de variantes: PostgreSQL o memoria (desarrollo y pruebas)
	var (
		txRunner reservation.TxRunner
		variants repository.VariantRepository
	)
	switch cfg.App.StoreDriver {
	case "memory":
		store := memory.NewVariantStore()
		txRunner, variants = store, store.Repository()
		checks["store"] = store.Ping
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB, cfg.App.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if cfg.DB.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				log.Fatal().Err(err).Msg("crear esquema")
			}
		}
		txRunner = postgres.NewTxRunner(pool, cfg.Reservation.LockTimeout)
		variants = postgres.NewVariantRepository(pool)
		checks["store"] = pool.Ping
	}

	// Idempotencia: Redis si está configurado, si no en memoria (un solo proceso)
	var idem repository.IdempotencyRepository
	if cfg.Redis.Addr != "" {
		rdb, err := infraredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
		idem = infraredis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL, cfg.Reservation.IdempotencyInFlightTTL())
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		idem = memory.NewIdempotencyStore(cfg.Redis.IdempotencyTTL, cfg.Reservation.IdempotencyInFlightTTL())
	}

	var publisher interface {
		reservation.EventPublisher
		Close() error
	} = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer publisher.Close()

	m := metrics.New("catalog")

	reserveUC := reservation.NewUseCase(txRunner, idem, publisher, m, log, reservation.Options{
		Timeout:      cfg.Reservation.Timeout,
		MaxAttempts:  cfg.Reservation.MaxAttempts,
		RetryBackoff: cfg.Reservation.RetryBackoff,
	})
	variantUC := usecase.NewVariantUseCase(variants)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())
	app.Use(tracing.Middleware())
	if cfg.Metrics.Enabled {
		app.Use(m.Middleware())
		app.Get("/metrics", m.Handler())
	}

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Catalog API",
	}))

	app.Get("/health", httpRouter.HealthHandler(cfg.App.Name, checks))

	if !cfg.Reservation.RequireAuth {
		log.Warn().Msg("RESERVATION_REQUIRE_AUTH=false: la ruta de reservas no exige token")
	}
	httpRouter.Router(app, httpRouter.RouterDeps{
		ReserveUC: reserveUC,
		VariantUC: variantUC,
		JWTSecret: cfg.JWT.Secret,

		ReserveRequireAuth: cfg.Reservation.RequireAuth,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado de tracing")
	}

	log.Info().Msg("aplicación detenida")
}
