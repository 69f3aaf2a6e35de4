package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	// Application
	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/application/usecase"

	// Domain
	"github.com/dreschagin/link-preview/internal/domain/valueobject"

	// Infrastructure
	"github.com/dreschagin/link-preview/internal/infrastructure/browser"
	rediscache "github.com/dreschagin/link-preview/internal/infrastructure/cache/redis"
	"github.com/dreschagin/link-preview/internal/infrastructure/collector"
	natspub "github.com/dreschagin/link-preview/internal/infrastructure/messaging/nats"
	wsInfra "github.com/dreschagin/link-preview/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/link-preview/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/link-preview/internal/infrastructure/observability/prometheus"
	dynamodbRepo "github.com/dreschagin/link-preview/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/link-preview/internal/infrastructure/persistence/postgres"
	miniostorage "github.com/dreschagin/link-preview/internal/infrastructure/storage/minio"
	s3storage "github.com/dreschagin/link-preview/internal/infrastructure/storage/s3"

	// Interfaces
	httpInterface "github.com/dreschagin/link-preview/internal/interfaces/http"
	"github.com/dreschagin/link-preview/internal/interfaces/http/handler"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"

	// Shared
	"github.com/dreschagin/link-preview/pkg/config"
	"github.com/dreschagin/link-preview/pkg/logger"

	_ "github.com/lib/pq"
)

// objectStorage то, что main требует от backend'а хранилища
type objectStorage interface {
	port.ObjectStorage
	handler.Pinger
}

type captureIndex interface {
	port.CaptureIndex
	handler.Pinger
}

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting link preview service",
		"browser_provider", cfg.Browser.Provider,
		"storage_backend", cfg.Storage.Backend,
		"index_backend", cfg.Index.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// CloudWatch Logs подключаем первым, чтобы туда попал весь старт
	var logsPublisher *cloudwatch.LogsPublisher
	if cfg.CloudWatch.LogsEnabled {
		logsPublisher, err = cloudwatch.NewLogsPublisher(ctx, cloudwatch.LogsPublisherConfig{
			LogGroupName:    cfg.CloudWatch.LogGroupName,
			LogStreamName:   cfg.CloudWatch.LogStreamName,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			Service:         "link-preview",
			BufferSize:      cfg.CloudWatch.LogsBufferSize,
			FlushInterval:   cfg.CloudWatch.LogsFlushInterval,
			AutoCreate:      true,
		})
		if err != nil {
			log.Warn("CloudWatch Logs disabled", "error", err.Error())
		} else {
			log.SetLogPublisher(logsPublisher)
			log.Info("CloudWatch Logs enabled", "log_group", cfg.CloudWatch.LogGroupName)
		}
	}

	// 3. Dependency Injection - Infrastructure Layer

	// Browser
	provider, err := browser.NewProvider(browser.Config{
		Provider:       cfg.Browser.Provider,
		ExecutablePath: cfg.Browser.ExecutablePath,
		RemoteURL:      cfg.Browser.RemoteURL,
		ExtraArgs:      cfg.Browser.ExtraArgs,
	}, log)
	if err != nil {
		log.Error("Failed to initialize browser provider", err)
		os.Exit(1)
	}

	// Storage
	storage, err := buildStorage(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("Failed to initialize screenshot storage", err)
		os.Exit(1)
	}

	// Capture index (опционально)
	index, db, err := buildIndex(ctx, cfg.Index)
	if err != nil {
		log.Error("Failed to initialize capture index", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	// Redis cache (опционально)
	var cache *rediscache.RedisCache
	if cfg.Redis.Enabled {
		cache, err = rediscache.NewRedisCache(rediscache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Warn("Redis unavailable, recent captures are not cached", "error", err.Error())
			cache = nil
		} else {
			log.Info("Redis cache connected", "host", cfg.Redis.Host)
		}
	}

	// NATS (опционально)
	var events *natspub.NATSPublisher
	if cfg.NATS.Enabled {
		events, err = natspub.NewNATSPublisher(natspub.Config{
			URL:      cfg.NATS.URL,
			Stream:   "SCREENSHOTS",
			Subjects: []string{cfg.NATS.Subject},
			MaxAge:   24 * time.Hour,
		}, log)
		if err != nil {
			log.Warn("NATS unavailable, capture events are not published", "error", err.Error())
			events = nil
		}
	}

	// WebSocket Hub
	hub := wsInfra.NewHub(log)

	// Capacity guard
	capacityGuard := collector.NewHostCapacityGuard(collector.CapacityConfig{
		MaxMemoryPercent:    cfg.Capacity.MaxMemoryPercent,
		MaxBrowserProcesses: cfg.Capacity.MaxBrowserProcesses,
	}, log)

	// Observability
	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prometheus.New(registry)

	var metricsPublisher *cloudwatch.MetricsPublisher
	if cfg.CloudWatch.MetricsEnabled {
		metricsPublisher, err = cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:       cfg.CloudWatch.MetricsNamespace,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			DefaultDimensions: map[string]string{
				"Service": "link-preview",
			},
			BufferSize:    cfg.CloudWatch.MetricsBufferSize,
			FlushInterval: cfg.CloudWatch.MetricsFlushInterval,
		})
		if err != nil {
			log.Warn("CloudWatch metrics disabled", "error", err.Error())
			metricsPublisher = nil
		} else {
			metricsPublisher.OnError(func(err error) {
				log.Warn("CloudWatch metrics flush failed", "error", err.Error())
			})
		}
	}

	// 4. Dependency Injection - Application Layer (Use Cases)

	viewport, err := valueobject.NewViewport(cfg.Capture.ViewportWidth, cfg.Capture.ViewportHeight)
	if err != nil {
		log.Error("Invalid capture viewport", err)
		os.Exit(1)
	}
	waitUntil, err := valueobject.ParseWaitUntil(cfg.Capture.WaitUntil)
	if err != nil {
		log.Error("Invalid capture wait condition", err)
		os.Exit(1)
	}

	captureUC := usecase.NewCaptureScreenshotUseCase(
		provider,
		storage,
		valueobject.NewKeyGenerator(cfg.Capture.KeyFolder),
		usecase.CaptureScreenshotConfig{
			Viewport:          viewport,
			WaitUntil:         waitUntil,
			NavigationTimeout: cfg.Capture.NavigationTimeout,
			EventSubject:      cfg.NATS.Subject,
		},
		log,
	)
	captureUC.SetCapacityGuard(capacityGuard)
	captureUC.SetNotificationService(hub)
	captureUC.AddObserver(metrics)
	if index != nil {
		captureUC.SetIndex(index)
	}
	if cache != nil {
		captureUC.SetCache(cache)
	}
	if events != nil {
		captureUC.SetEventPublisher(events)
	}
	if metricsPublisher != nil {
		captureUC.AddObserver(cloudwatch.NewCaptureMetrics(metricsPublisher, func(err error) {
			log.Warn("Failed to publish capture metrics", "error", err.Error())
		}))
	}

	var listCache port.Cache
	if cache != nil {
		listCache = cache
	}
	listUC := usecase.NewListCapturesUseCase(index, listCache, usecase.ListCapturesConfig{KeyFolder: cfg.Capture.KeyFolder}, log)
	if index == nil {
		// без индекса список строится по ключам бакета, без пагинации
		listUC.SetStorageFallback(storage)
	}

	// 5. Dependency Injection - Interfaces Layer (HTTP Handlers)

	authConfig := middleware.AuthConfig{
		Enabled:     cfg.Security.AuthEnabled,
		BearerToken: cfg.Security.AuthToken,
		CookieTTL:   cfg.Security.AuthCookieTTL,
	}

	checks := []handler.DependencyCheck{{Name: "storage", Pinger: storage}}
	if index != nil {
		checks = append(checks, handler.DependencyCheck{Name: "index", Pinger: index, Optional: true})
	}
	if cache != nil {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Pinger: cache, Optional: true})
	}

	router := httpInterface.NewRouter(
		handler.NewPageHandler(listUC, authConfig, log),
		handler.NewWebSocketHandler(hub, handler.FeedConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			MaxClients:     cfg.Security.FeedMaxClients,
		}, authConfig, log),
		handler.NewScreenshotAPIHandler(captureUC, listUC, cfg.Capture.RequestTimeout, cfg.Capture.MaxBodyBytes, log),
		handler.NewAuthAPIHandler(authConfig, log),
		handler.NewHealthHandler(checks, capacityGuard, log),
		metrics,
		cfg.Security,
		log,
	)

	// 6. Запускаем фоновые процессы

	go hub.Run(ctx)

	// 7. Настраиваем HTTP сервер

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Канал для получения сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Запускаем сервер в отдельной goroutine
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 8. Ожидаем сигнал для graceful shutdown

	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Сначала дожидаемся текущих захватов, потом гасим зависимости
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	// Останавливаем hub
	cancel()

	if err := provider.Close(); err != nil {
		log.Warn("Failed to close browser provider", "error", err.Error())
	}
	if events != nil {
		if err := events.Close(); err != nil {
			log.Warn("Failed to close NATS publisher", "error", err.Error())
		}
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Warn("Failed to close Redis cache", "error", err.Error())
		}
	}
	if metricsPublisher != nil {
		if err := metricsPublisher.Close(shutdownCtx); err != nil {
			log.Warn("Failed to flush CloudWatch metrics", "error", err.Error())
		}
	}

	log.Info("Server stopped gracefully")

	// Logs publisher закрываем последним, после финальной записи
	if logsPublisher != nil {
		log.SetLogPublisher(nil)
		_ = logsPublisher.Close(shutdownCtx)
	}
}

func buildStorage(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (objectStorage, error) {
	switch cfg.Backend {
	case "minio":
		return miniostorage.NewObjectStorage(ctx, miniostorage.Config{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			CreateBucket:    cfg.CreateBucket,
			Presigned:       s3storage.URLMode(cfg.URLMode) == s3storage.URLModePresigned,
			PresignedTTL:    cfg.PresignedTTL,
		}, log)
	default:
		return s3storage.NewObjectStorage(ctx, s3storage.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
			URLMode:         s3storage.URLMode(cfg.URLMode),
			PresignedTTL:    cfg.PresignedTTL,
		})
	}
}

// buildIndex возвращает nil index для backend "none"
func buildIndex(ctx context.Context, cfg config.IndexConfig) (captureIndex, *sql.DB, error) {
	switch cfg.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewPostgresCaptureRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	case "dynamodb":
		repo, err := dynamodbRepo.NewCaptureRepository(ctx, dynamodbRepo.Config{
			TableName:   cfg.DynamoTable,
			Region:      cfg.DynamoRegion,
			Endpoint:    cfg.DynamoEndpoint,
			StrongReads: cfg.DynamoStrongReads,
			TTL:         time.Duration(cfg.TTLDays) * 24 * time.Hour,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	default:
		return nil, nil, nil
	}
}
