package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vnml-server/internal/config"
	ws "vnml-server/internal/delivery/websocket"
	"vnml-server/internal/generator"
	"vnml-server/internal/handler"
	"vnml-server/internal/repair"
	"vnml-server/internal/service"
	"vnml-server/pkg/database"
	"vnml-server/pkg/migration"
	sharedDatabase "vnml-server/shared/database"
	"vnml-server/shared/interfaces"
	sharedLogger "vnml-server/shared/logger"
	"vnml-server/shared/messaging"
	sharedMiddleware "vnml-server/shared/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	// .env необязателен: в production переменные приходят из окружения
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "vnml-server",
		Env:      cfg.Env,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("storeBackend", cfg.StoreBackend),
		zap.String("aiClientType", cfg.AIClientType),
		zap.String("aiModel", cfg.AIModel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Хранилище ходов ---
	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up turn store", zap.Error(err))
	}
	defer closeStore()
	if *migrateOnly {
		logger.Info("Migrations applied, exiting")
		return
	}

	// --- Публикация событий в RabbitMQ (необязательно) ---
	var publisher interfaces.TurnEventPublisher
	if cfg.RabbitMQURL != "" {
		mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()
		turnPublisher, err := messaging.NewRabbitMQTurnPublisher(mqConn, cfg.TurnsExchange)
		if err != nil {
			logger.Fatal("Failed to create turn publisher", zap.Error(err))
		}
		defer turnPublisher.Close()
		publisher = turnPublisher
	} else {
		logger.Info("RABBITMQ_URL is empty, turn events are not published")
	}

	// --- WebSocket hub для рендереров ---
	hub := ws.NewHub(logger, cfg.CORSAllowedOrigins)
	go hub.Run(ctx)

	// --- Генератор и движок ---
	gen, err := generator.NewGenerator(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create generator", zap.Error(err))
	}
	controller := repair.NewController(gen, repair.Config{
		MaxRetries:      cfg.Engine.MaxRetries,
		GenerateTimeout: cfg.AITimeout,
		BaseRetryDelay:  cfg.AIBaseRetryDelay,
		ContextTokens:   cfg.AIContextTokens,
		Counter:         generator.NewTokenCounter(cfg.AIModel),
	}, logger)
	engine := service.NewEngineService(store, publisher, hub, controller, service.SessionOptions(cfg.Engine), logger)
	engineHandler := handler.NewEngineHandler(engine, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(sharedMiddleware.RequestID())
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", sharedMiddleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "renderers": hub.ClientCount()})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
	router.GET("/ws", gin.WrapF(hub.ServeWS))
	engineHandler.RegisterRoutes(router)

	// /metrics отдает реестр по умолчанию: метрики gin и метрики движка (promauto)
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Ответ ждет генерации со всеми повторами.
		WriteTimeout: cfg.AITimeout*time.Duration(cfg.Engine.MaxRetries+1) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exiting")
}

// setupStore создает хранилище ходов выбранного типа. Для PostgreSQL сначала применяются миграции.
func setupStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.TurnStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		logger.Info("Applying migrations", zap.String("dsn", cfg.MaskedDSN()))
		migrator := migration.NewMigrator(migration.Config{
			DSN:            cfg.GetDSN(),
			MigrationsPath: sharedDatabase.MigrationsPath,
			MigrationsFS:   sharedDatabase.MigrationsFS,
		})
		if err := migrator.Up(); err != nil {
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		if version, dirty, err := migrator.Version(); err == nil {
			logger.Info("Database schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}

		db, err := database.New(ctx, database.Config{
			DSN:            cfg.GetDSN(),
			MaxConns:       int32(cfg.DBMaxConns),
			IdleTimeout:    cfg.DBIdleTimeout,
			ConnectTimeout: 10 * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return sharedDatabase.NewPgTurnStore(db, logger), db.Close, nil

	case config.StoreRedis:
		client, err := setupRedis(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return sharedDatabase.NewRedisTurnStore(client, "vnml:", logger), func() { _ = client.Close() }, nil

	default:
		logger.Warn("Using in-memory turn store, sessions are lost on restart")
		return sharedDatabase.NewMemoryTurnStore(logger), func() {}, nil
	}
}

// setupRedis создает клиента Redis и проверяет соединение с повторами.
func setupRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	const maxRetries = 10
	retryDelay := 3 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("Connected to Redis", zap.String("address", opts.Addr), zap.Int("attempt", attempt))
			return client, nil
		}
		_ = client.Close()
		logger.Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(rawURL string, logger *zap.Logger) (*amqp091.Connection, error) {
	const maxRetries = 10
	retryDelay := 5 * time.Second
	logger.Info("Attempting to connect to RabbitMQ", zap.String("url", maskURL(rawURL)), zap.Int("max_retries", maxRetries))

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var conn *amqp091.Connection
		conn, err = amqp091.Dial(rawURL)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
				if closeErr := <-notifyClose; closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				}
			}()
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

func maskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid url]"
	}
	return u.Redacted()
}
