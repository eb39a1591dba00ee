// cmd/upskill/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upskill/internal/api"
	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/config"
	"upskill/internal/enrollment"
	"upskill/internal/payments"
	"upskill/internal/telemetry"
	"upskill/internal/webhook"

	"github.com/spf13/cobra"
)

var (
	serveAddr string
	seedFile  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, webhook endpoints and reconciliation sweep",
	Long: `Start the upskill server.

Examples:
  upskill serve
  upskill serve --addr :9000 --seed courses.json`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to :$PORT)")
	serveCmd.Flags().StringVar(&seedFile, "seed", "", "JSON file of courses to load at startup (defaults to $SEED_FILE)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if path := firstNonEmpty(seedFile, cfg.SeedFile); path != "" {
		n, err := catalog.LoadFile(ctx, stores.Courses, path)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.Printf("[upskill] seeded %d course(s) from %s", n, path)
	}

	reconciler := enrollment.NewReconciler(stores.Ledger, stores.Index)
	if cfg.RebuildOnBoot {
		if err := reconciler.Rebuild(ctx); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		log.Printf("[upskill] enrollment index rebuilt from ledger")
	}
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		return err
	}
	defer reconciler.Stop()

	server := api.NewServer(api.Deps{
		Ledger:           stores.Ledger,
		Index:            stores.Index,
		Courses:          stores.Courses,
		Users:            stores.Users,
		Auth:             auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthIssuer),
		PaymentVerifier:  webhook.NewVerifier(cfg.PaymentWebhookSecret, cfg.SignatureTolerance),
		IdentityVerifier: identityVerifier(cfg),
		Payments: payments.Config{
			Provider: cfg.PaymentProvider,
			Budget:   cfg.WebhookBudget,
		},
		CheckoutPerMinute: cfg.CheckoutRatePerMinute,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		Health:            stores.Health,
	})

	addr := firstNonEmpty(serveAddr, cfg.Addr())
	srv := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WebhookBudget + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[upskill] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[upskill] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func identityVerifier(cfg *config.Config) *webhook.Verifier {
	if cfg.IdentityWebhookSecret == "" {
		return nil
	}
	return webhook.NewVerifier(cfg.IdentityWebhookSecret, cfg.SignatureTolerance)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
