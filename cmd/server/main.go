package main

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/agriconnect/api/handler"
	"github.com/fastygo/agriconnect/internal/config"
	"github.com/fastygo/agriconnect/internal/infrastructure/buffer"
	"github.com/fastygo/agriconnect/internal/infrastructure/geocode"
	"github.com/fastygo/agriconnect/internal/infrastructure/metrics"
	"github.com/fastygo/agriconnect/internal/infrastructure/monitor"
	"github.com/fastygo/agriconnect/internal/infrastructure/payment"
	pgInfra "github.com/fastygo/agriconnect/internal/infrastructure/postgres"
	"github.com/fastygo/agriconnect/internal/infrastructure/rabbitmq"
	redisInfra "github.com/fastygo/agriconnect/internal/infrastructure/redis"
	"github.com/fastygo/agriconnect/internal/infrastructure/snapshot"
	"github.com/fastygo/agriconnect/internal/middleware"
	"github.com/fastygo/agriconnect/internal/router"
	"github.com/fastygo/agriconnect/internal/services"
	"github.com/fastygo/agriconnect/internal/services/identity"
	"github.com/fastygo/agriconnect/internal/services/lifecycle"
	"github.com/fastygo/agriconnect/internal/services/sessions"
	"github.com/fastygo/agriconnect/pkg/httpcontext"
	"github.com/fastygo/agriconnect/pkg/logger"
	"github.com/fastygo/agriconnect/repository"
	"github.com/fastygo/agriconnect/repository/memory"
	"github.com/fastygo/agriconnect/repository/postgres"
	redisRepo "github.com/fastygo/agriconnect/repository/redis"
	"github.com/fastygo/agriconnect/usecase/admission"
	"github.com/fastygo/agriconnect/usecase/catalog"
	"github.com/fastygo/agriconnect/usecase/requests"
	"github.com/fastygo/agriconnect/usecase/session"
)

type stores struct {
	profiles    repository.ProfileRepository
	credentials repository.CredentialRepository
	sessions    repository.SessionRepository
	documents   repository.DocumentRepository
	feed        repository.ChangeFeed
	push        *redisRepo.PushTokenIssuer
	probes      []monitor.Probe
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Encoding:    cfg.Logger.Encoding,
		Service:     cfg.AppName,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	appCtx, cancel := manager.Context(context.Background())
	defer cancel()

	var st stores
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		zapLogger.Warn("using in-memory stores; data is lost on restart")
		docs := memory.NewCatalog()
		st = stores{
			profiles:    memory.NewProfiles(),
			credentials: memory.NewCredentials(),
			sessions:    memory.NewSessions(),
			documents:   docs,
			feed:        docs,
		}
	default:
		if err := pgInfra.RunMigrations(cfg.Database.URL, cfg.Migrations, zapLogger); err != nil {
			zapLogger.Fatal("migrations failed", zap.Error(err))
		}

		pool, err := pgInfra.NewPool(appCtx, cfg.Database, cfg.AppName, zapLogger.Named("postgres"))
		if err != nil {
			zapLogger.Fatal("postgres connection failed", zap.Error(err))
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pgInfra.Close(pool, zapLogger)
			return nil
		})

		redisClient, err := redisInfra.NewClient(appCtx, cfg.Redis, cfg.AppName, zapLogger.Named("redis"))
		if err != nil {
			zapLogger.Fatal("redis connection failed", zap.Error(err))
		}
		manager.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})

		st = stores{
			profiles:    postgres.NewProfileRepository(pool),
			credentials: postgres.NewCredentialRepository(pool),
			sessions:    redisRepo.NewSessionRepository(redisClient, cfg.Identity.SessionTTL),
			documents:   postgres.NewDocumentRepository(pool),
			feed:        postgres.NewChangeFeed(pool, zapLogger.Named("feed")),
			push:        redisRepo.NewPushTokenIssuer(redisClient, cfg.Push.TokenTTL),
			probes:      []monitor.Probe{monitor.PostgresProbe(pool), monitor.RedisProbe(redisClient)},
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	var deps session.Dependencies
	deps.Profiles = st.profiles
	deps.Documents = st.documents
	deps.Feed = st.feed
	deps.Metrics = collector
	deps.Logger = zapLogger
	if st.push != nil {
		deps.Push = st.push
	}

	if cfg.Rabbit.Enabled {
		publisher, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			zapLogger.Fatal("rabbitmq connection failed", zap.Error(err))
		}
		manager.Register("rabbitmq", func(ctx context.Context) error {
			return publisher.Close()
		})
		deps.Publisher = publisher
		st.probes = append(st.probes, monitor.Probe{Name: "rabbitmq", Check: publisher.Ping})
	}
	if cfg.Geocoder.Enabled {
		deps.Geocoder = geocode.New(geocode.Config{
			BaseURL:   cfg.Geocoder.BaseURL,
			UserAgent: cfg.Geocoder.UserAgent,
			Timeout:   cfg.Geocoder.Timeout,
			RateLimit: cfg.Geocoder.RateLimit,
		}, zapLogger.Named("geocoder"))
	}
	if cfg.Payment.Enabled {
		deps.Payments = payment.New(payment.Config{
			BaseURL:  cfg.Payment.BaseURL,
			APIKey:   cfg.Payment.APIKey,
			Currency: cfg.Payment.Currency,
			Timeout:  cfg.Payment.Timeout,
		}, zapLogger.Named("payment"))
	}
	if cfg.Snapshot.Enabled {
		snapshots, err := snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			zapLogger.Fatal("failed to open snapshot store", zap.Error(err))
		}
		manager.Register("snapshots", func(ctx context.Context) error {
			return snapshots.Close()
		})
		deps.Snapshots = snapshots
	}

	bufferStore, err := buffer.Open(cfg.Buffer.Path, "catalog_writes")
	if err != nil {
		zapLogger.Fatal("failed to open buffer store", zap.Error(err))
	}
	manager.Register("buffer", func(ctx context.Context) error {
		return bufferStore.Close()
	})

	mon := monitor.New(bufferStore, 0, zapLogger.Named("monitor"), st.probes...)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	bufferProcessor := services.NewBufferProcessor(
		bufferStore,
		mon,
		st.documents,
		collector,
		zapLogger.Named("buffer"),
		services.ProcessorConfig{
			Interval:   cfg.Buffer.SyncInterval,
			BatchSize:  50,
			MaxRetries: cfg.Buffer.MaxRetry,
			Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
		},
	)
	bufferProcessor.Start()
	manager.Register("buffer_processor", func(ctx context.Context) error {
		bufferProcessor.Stop(ctx)
		return nil
	})
	deps.Buffer = services.NewBufferBridge(bufferProcessor)

	provider := identity.NewProvider(
		st.credentials,
		st.sessions,
		identity.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer),
		zapLogger.Named("identity"),
		identity.Config{
			SessionTTL:        cfg.Identity.SessionTTL,
			BcryptCost:        cfg.Identity.BcryptCost,
			MinPasswordLength: cfg.Identity.MinPasswordLength,
		},
	)

	hub := sessions.New(provider, deps, session.Config{
		Admission: admission.Config{
			CheckTimeout: cfg.Admission.CheckTimeout,
			PendingLimit: cfg.Admission.PendingLimit,
		},
		Catalog: catalog.Config{
			MinBackoff: cfg.Feed.MinBackoff,
			MaxBackoff: cfg.Feed.MaxBackoff,
		},
		Requests: requests.Config{GeocodeTimeout: cfg.Geocoder.Timeout},
	}, collector, zapLogger.Named("sessions"), sessions.Config{
		SweepInterval: cfg.Identity.SweepInterval,
		IdleTimeout:   cfg.Identity.IdleTimeout,
	})
	hub.Start()
	manager.Register("sessions", func(ctx context.Context) error {
		hub.Stop(ctx)
		return nil
	})

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout,
		httpcontext.CopyHeader(middleware.HeaderSessionID, httpcontext.KeySessionID),
		httpcontext.CopyHeader(middleware.HeaderUserID, httpcontext.KeyUserID),
	)

	handlers := router.Handlers{
		Auth:     apiHandler.NewAuthHandler(hub, ctxAdapter, zapLogger),
		Catalog:  apiHandler.NewCatalogHandler(hub, ctxAdapter, zapLogger),
		Requests: apiHandler.NewRequestHandler(hub, ctxAdapter, zapLogger),
		Admin:    apiHandler.NewAdminHandler(hub, ctxAdapter, zapLogger),
		Checkout: apiHandler.NewCheckoutHandler(hub, ctxAdapter, zapLogger),
		Health:   apiHandler.NewHealthHandler(mon, hub.Len, ctxAdapter, zapLogger),
	}
	if cfg.HTTP.EnableMetrics {
		handlers.Metrics = metrics.Handler(registry)
	}

	authMiddleware := middleware.JWTAuth(provider, zapLogger)
	r := router.New(handlers, authMiddleware)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()), zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.Shutdown()
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
