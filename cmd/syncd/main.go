package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/madahq/mada-sync/internal/notification"
	"github.com/madahq/mada-sync/internal/offline"
	"github.com/madahq/mada-sync/internal/platform/aws"
	"github.com/madahq/mada-sync/internal/platform/config"
	"github.com/madahq/mada-sync/internal/platform/observability"
	"github.com/madahq/mada-sync/internal/platform/storage"
)

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("mada-sync", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, "mada-sync", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracerProvider.Shutdown(ctx)
	tracer := tracerProvider.Tracer()

	logger.Info("observability setup complete")

	// Setup durable storage
	logger.Info("setting up storage", "backend", cfg.Storage.Backend)
	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.LogError(ctx, "failed to create storage backend", err)
		log.Fatalf("Failed to create storage backend: %v", err)
	}
	defer store.Close()

	// Exhausted mutation publisher (SNS when configured, log-only otherwise)
	var publisher offline.ExhaustedPublisher
	if cfg.AWS.SNSTopicARN != "" {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})
		publisher, err = notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Metrics:   metrics,
			Tracer:    tracer,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create publisher", err)
			log.Fatalf("Failed to create publisher: %v", err)
		}
	} else {
		publisher = notification.NewNoOpPublisher(logger)
	}

	// Connectivity probe
	probe := offline.NewHTTPProbe(offline.HTTPProbeConfig{
		URL:     cfg.Probe.URL,
		Timeout: cfg.Probe.Timeout,
		Logger:  logger,
		Metrics: metrics,
	})

	// Upstream mutation endpoint
	remote, err := offline.NewHTTPRemote(offline.HTTPRemoteConfig{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
		Routes:  cfg.Remote.Routes,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create remote", err)
		log.Fatalf("Failed to create remote: %v", err)
	}

	// Query cache
	logger.Info("creating query cache...")
	cache, err := offline.NewCacheStore(offline.CacheStoreConfig{
		Store:         store,
		FlushDebounce: cfg.Cache.FlushDebounce,
		StaleAfter:    cfg.Cache.StaleAfter,
		GCAfter:       cfg.Cache.GCAfter,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create cache", err)
		log.Fatalf("Failed to create cache: %v", err)
	}

	// Mutation queue
	logger.Info("creating mutation queue...")
	scheduler := offline.NewRetryScheduler(offline.RetrySchedulerConfig{
		MaxRetries: cfg.Queue.MaxRetries,
		BaseDelay:  cfg.Queue.BaseDelay,
		MaxDelay:   cfg.Queue.MaxDelay,
		Logger:     logger,
		Metrics:    metrics,
	})
	queue, err := offline.NewMutationQueue(offline.MutationQueueConfig{
		Store:     store,
		Remote:    remote,
		Scheduler: scheduler,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create queue", err)
		log.Fatalf("Failed to create queue: %v", err)
	}

	// Optimistic write coordinator
	coordinator, err := offline.NewOptimisticCoordinator(offline.OptimisticCoordinatorConfig{
		Cache:   cache,
		Queue:   queue,
		Remote:  remote,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create coordinator", err)
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	// Sync engine
	logger.Info("creating sync engine...")
	engine, err := offline.NewEngine(offline.EngineConfig{
		Cache:        cache,
		Queue:        queue,
		Probe:        probe,
		PollInterval: cfg.Probe.PollInterval,
		GCInterval:   cfg.Cache.GCInterval,
		MaxRefreshes: cfg.Cache.MaxRefreshes,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create engine", err)
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Start HTTP server for health checks, metrics and sync controls
	logger.Info("starting HTTP server...")
	go startHTTPServer(cfg.HTTP.Port, engine, queue, cache, coordinator, metrics, logger)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run engine
	logger.Info("starting sync engine...")
	if err := engine.Start(ctx); err != nil {
		logger.LogError(ctx, "failed to start engine", err)
		log.Fatalf("Failed to start engine: %v", err)
	}

	// Wait for shutdown signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")

	// Graceful shutdown: flush dirty cache state before exit
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "engine shutdown error", err)
	}
	logger.Info("application stopped")
}

// buildStore creates the configured durable storage backend
func buildStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "file":
		return storage.NewFileStore(cfg.Storage.Dir)
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	case "dynamodb":
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return storage.NewDynamoStore(awsCfg, cfg.Storage.Table)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// startHTTPServer starts HTTP server for health checks, metrics and sync controls
func startHTTPServer(
	port int,
	engine *offline.Engine,
	queue *offline.MutationQueue,
	cache *offline.CacheStore,
	coordinator *offline.OptimisticCoordinator,
	metrics *observability.Metrics,
	logger *observability.Logger,
) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Sync status
	mux.HandleFunc("/sync/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"online":        engine.Online(),
			"queue_depth":   queue.Size(),
			"cache_entries": cache.Len(),
		})
	})

	// Optimistic write: the payload appends to the cached list for the
	// key immediately; a failed remote write lands in the queue.
	mux.HandleFunc("/sync/mutations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Key     []string        `json:"key"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" || len(req.Key) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var item any
		if err := json.Unmarshal(req.Payload, &item); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err := coordinator.Apply(r.Context(), offline.Mutation{
			Key:     offline.QueryKey(req.Key),
			Type:    req.Type,
			Payload: req.Payload,
			Transform: func(prior any) any {
				list, _ := prior.([]any)
				return append(list, item)
			},
		})
		if err != nil {
			logger.LogError(r.Context(), "mutation apply failed", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	// External reconnect signal: triggers an immediate drain
	mux.HandleFunc("/sync/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		engine.NotifyReconnect(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}
