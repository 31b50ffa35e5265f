package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/reservation-service/internal/config"
	"github.com/fjod/go_cart/reservation-service/internal/consumer"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/engine"
	"github.com/fjod/go_cart/reservation-service/internal/finalizer"
	h "github.com/fjod/go_cart/reservation-service/internal/http"
	"github.com/fjod/go_cart/reservation-service/internal/ledger"
	"github.com/fjod/go_cart/reservation-service/internal/logger"
	"github.com/fjod/go_cart/reservation-service/internal/orders"
	"github.com/fjod/go_cart/reservation-service/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := ledger.ParseDepletionPolicy(cfg.DepletionPolicy)
	if err != nil {
		log.Fatal("Invalid depletion policy", zap.Error(err))
	}

	stock, holds, closeStore := setupStorage(ctx, cfg, policy, log)
	defer closeStore()

	eng := engine.New(stock, holds, engine.Config{TTL: cfg.ReservationTTL}, log.Named("engine"))

	if cfg.SeedFile != "" {
		if err := seedStock(ctx, eng, cfg.SeedFile); err != nil {
			log.Fatal("Failed to seed stock", zap.String("file", cfg.SeedFile), zap.Error(err))
		}
		log.Info("Stock seeded", zap.String("file", cfg.SeedFile))
	}

	sweeper := engine.NewSweeper(eng, cfg.SweepInterval, log.Named("sweeper"))
	sweeper.Start()
	defer sweeper.Close()

	repo, err := setupOrders(cfg)
	if err != nil {
		log.Fatal("Failed to set up orders database", zap.Error(err))
	}
	defer repo.Close()
	orderStore := orders.NewBreakerRepository(repo, orders.DefaultBreakerSettings(), log.Named("orders"))

	deduper := setupDeduper(ctx, cfg, log)
	fin := finalizer.New(eng, orderStore, deduper, log.Named("finalizer"))

	if len(cfg.KafkaBrokers) > 0 {
		c := consumer.NewConsumer(fin, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, log.Named("consumer"))
		go c.Run(ctx)
		defer c.Close()
		log.Info("Payment outcome consumer started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	router := h.NewRouter(h.Handlers{
		Reservations: h.NewReservationHandler(eng, log),
		Stock:        h.NewStockHandler(eng, log),
		Payments:     h.NewPaymentHandler(fin, log),
		Orders:       h.NewOrdersHandler(orderStore, log),
	}, h.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxRequestBodySize,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "reservation-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Reservation service starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func setupStorage(ctx context.Context, cfg *config.Config, policy ledger.DepletionPolicy, log *zap.Logger) (ledger.Ledger, reservation.Store, func()) {
	if cfg.StoreBackend != config.BackendMongo {
		log.Info("Using in-memory stock and reservations")
		return ledger.NewMemoryLedger(policy), reservation.NewMemoryStore(), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := ledger.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	stock := ledger.NewMongoLedger(db, policy)
	if err := stock.CreateIndexes(connectCtx); err != nil {
		log.Fatal("Failed to create stock indexes", zap.Error(err))
	}
	holds := reservation.NewMongoStore(db)
	if err := holds.CreateIndexes(connectCtx); err != nil {
		log.Fatal("Failed to create reservation indexes", zap.Error(err))
	}
	log.Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	return stock, holds, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			log.Error("Failed to disconnect from MongoDB", zap.Error(err))
		}
	}
}

func setupOrders(cfg *config.Config) (*orders.SQLRepository, error) {
	cred := &orders.Credentials{
		Driver:            cfg.OrdersDriver,
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		SSLMode:           cfg.DBSSLMode,
		SQLitePath:        cfg.OrdersSQLitePath,
		MigrationsDirPath: cfg.MigrationsDir,
	}

	repo, err := orders.NewSQLRepository(cred)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(cred); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func setupDeduper(ctx context.Context, cfg *config.Config, log *zap.Logger) finalizer.Deduper {
	if cfg.RedisAddr == "" {
		log.Info("Using in-memory payment dedupe")
		return finalizer.NewMemoryDeduper(cfg.DedupeTTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return finalizer.NewRedisDeduper(client, cfg.DedupeTTL)
}

// seedStock loads a JSON array of products and applies it as a stock update.
func seedStock(ctx context.Context, eng *engine.Engine, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	return eng.UpdateStock(ctx, products)
}
