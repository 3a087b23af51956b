package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pharmacy/m/internal/api"
	"pharmacy/m/internal/auth"
	"pharmacy/m/internal/cart"
	"pharmacy/m/internal/catalog"
	"pharmacy/m/internal/events"
	"pharmacy/m/internal/medical"
	"pharmacy/m/internal/orders"
	"pharmacy/m/internal/prescriptions"
	"pharmacy/m/internal/report"
	"pharmacy/m/internal/seed"
	"pharmacy/m/internal/uploads"
)

const shutdownTimeout = 10 * time.Second

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", true, "load the drug catalog and first admin on startup")
}

func serve(ctx context.Context) error {
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authSvc := auth.NewService(db, tokens, logger)

	if serveSeed {
		if err := runSeed(ctx, db, authSvc, cfg.SeedDrugsCSV); err != nil {
			return err
		}
	}

	hub := events.NewHub(logger, cfg.CORSOrigins)
	defer hub.Close()
	publishers := events.Fanout{hub}
	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info("publishing order events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	store := uploads.NewStore(cfg.UploadDir, cfg.MaxUploadBytes)
	handler := api.New(api.Services{
		Auth:          authSvc,
		Catalog:       catalog.NewService(db),
		Cart:          cart.NewService(db, cfg.TxMaxRetries),
		Orders:        orders.NewService(db, publishers, logger, cfg.TxMaxRetries),
		Prescriptions: prescriptions.NewService(db, store, logger),
		Medical:       medical.NewService(db, store, logger, cfg.TxMaxRetries),
		Report:        report.NewService(db, logger, cfg.TxMaxRetries),
		Feed:          hub,
	}, api.Options{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimitRequests,
		RateWindow:     cfg.RateLimitWindow,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pharmacy server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.AppEnv),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runSeed(ctx context.Context, db *sqlx.DB, authSvc *auth.Service, csvPath string) error {
	if csvPath != "" {
		if _, err := seed.LoadDrugsFile(ctx, db, csvPath, logger); err != nil {
			return fmt.Errorf("seed drugs: %w", err)
		}
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := seed.Admin(ctx, authSvc, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName, logger); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}
	return nil
}
