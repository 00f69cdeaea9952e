package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"propertyhub/backend/internal/audit"
	auditrepo "propertyhub/backend/internal/audit/repository"
	"propertyhub/backend/internal/config"
	"propertyhub/backend/internal/db"
	apphealth "propertyhub/backend/internal/health"
	identityservice "propertyhub/backend/internal/identity/service"
	"propertyhub/backend/internal/logging"
	policyengine "propertyhub/backend/internal/policy/engine"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/server"
	"propertyhub/backend/internal/server/interceptors"
	sessionrepo "propertyhub/backend/internal/session/repository"
	sessionservice "propertyhub/backend/internal/session/service"
	"propertyhub/backend/internal/telemetry"
	telemetryotel "propertyhub/backend/internal/telemetry/otel"
	"propertyhub/backend/internal/telemetry/producer"
	userrepo "propertyhub/backend/internal/user/repository"
)

const healthInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	checks := []apphealth.Check{apphealth.PingCheck("postgres", sqlDB)}
	store, rdb, err := sessionrepo.OpenStore(cfg.StoreConfig(), sqlDB)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, apphealth.RedisCheck("redis", rdb))
	}

	codec, err := security.NewTokenCodec(cfg.CodecConfig())
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB), interceptors.ClientIP, logger)

	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.SecurityKafkaBrokersList(), cfg.SecurityKafkaTopic)
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
	}

	engine, err := sessionservice.New(codec, store,
		sessionservice.WithLogger(logger),
		sessionservice.WithAuditLogger(auditLogger),
		sessionservice.WithEventEmitter(emitters),
		sessionservice.WithMeterProvider(providers.MeterProvider),
		sessionservice.WithTracerProvider(providers.TracerProvider),
	)
	if err != nil {
		log.Fatalf("session engine: %v", err)
	}

	authz, err := policyengine.NewRoleAuthorizer(ctx, "")
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	checks = append(checks, apphealth.PolicyCheck(authz))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	go apphealth.NewChecker(logger, checks...).Watch(ctx, hs, healthInterval)

	s := server.NewGRPCServer(server.Deps{
		Engine:        engine,
		Authenticator: identityservice.NewPasswordAuthenticator(userrepo.NewPostgresRepository(sqlDB), security.NewHasher(cfg.BcryptCost), auditLogger, logger),
		Authorizer:    authz,
		Health:        hs,
		Log:           logger,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		logger.Info(ctx, "gRPC server listening", "addr", cfg.GRPCAddr, "session_store", cfg.SessionStore)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info(context.Background(), "shutting down gRPC server")
	hs.Shutdown()
	s.GracefulStop()
	time.Sleep(telemetry.ShutdownDrainDuration)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "otel shutdown", "err", err)
	}
	logger.Info(shutdownCtx, "gRPC server stopped")
}
