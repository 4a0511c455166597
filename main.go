package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aj9599/submeter-billing/config"
	"github.com/aj9599/submeter-billing/crypto"
	"github.com/aj9599/submeter-billing/database"
	"github.com/aj9599/submeter-billing/handlers"
	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/services"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.LogLevel, cfg.Environment, "submeter-billing"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	l := logger.L()

	l.Info("starting submeter billing backend", zap.String("environment", cfg.Environment))

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		l.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		l.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()

	var (
		store    services.DocumentStore
		filesDir string
	)
	if cfg.MinioEndpoint != "" {
		store, err = services.NewMinioStore(ctx, services.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			l.Fatal("failed to connect document store", zap.String("endpoint", cfg.MinioEndpoint), zap.Error(err))
		}
		l.Info("documents stored in minio", zap.String("bucket", cfg.MinioBucket))
	} else {
		store, err = services.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL+"/files")
		if err != nil {
			l.Fatal("failed to prepare upload dir", zap.Error(err))
		}
		filesDir = cfg.UploadDir
		l.Info("documents stored on disk", zap.String("dir", cfg.UploadDir))
	}

	var events services.EventPublisher = services.NopPublisher{}
	if cfg.MQTTBroker != "" {
		publisher, err := services.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, 5*time.Second)
		if err != nil {
			l.Warn("mqtt broker unavailable, events disabled", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			defer publisher.Close()
			events = publisher
		}
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	sealer, err := crypto.NewSealer(cfg.PaymentEncryptionKey)
	if err != nil {
		l.Fatal("invalid PAYMENT_ENCRYPTION_KEY", zap.Error(err))
	}
	if sealer.Ephemeral {
		l.Warn("PAYMENT_ENCRYPTION_KEY not set, saved UPI ids will not survive a restart")
	}

	renderer := services.NewChromePDFRenderer(cfg.ChromePath, cfg.PDFTimeout)

	svc := handlers.Services{
		Auth:       services.NewAuthService(db, cfg.JWTSecret, cfg.JWTTTL, cfg.OTPTTL, mailer),
		Tenants:    services.NewTenantService(db),
		Readings:   services.NewReadingService(db, store, events, cfg.UploadTimeout),
		Generation: services.NewGenerationService(db, services.NewModbusDGReader(cfg.ModbusTimeout)),
		Bills:      services.NewBillService(db, store, cfg.UploadTimeout),
		Reconcile:  services.NewReconcileService(db),
		Statements: services.NewStatementService(db, store, renderer, events, sealer, cfg.UploadTimeout),
		Summaries:  services.NewSummaryService(db),
		Profiles:   services.NewProfileService(db, sealer),
	}
	r := handlers.NewRouter(svc, filesDir)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		Debug:            false,
	})

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      c.Handler(r),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  180 * time.Second,
	}

	go func() {
		l.Info("server listening", zap.String("addr", cfg.ServerAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("graceful shutdown failed", zap.Error(err))
	}
}
