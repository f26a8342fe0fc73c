package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/cognirehab/securekit/audit"
	"github.com/cognirehab/securekit/authsession"
	"github.com/cognirehab/securekit/backend"
	"github.com/cognirehab/securekit/cache"
	"github.com/cognirehab/securekit/config"
	"github.com/cognirehab/securekit/platform"
	bboltstore "github.com/cognirehab/securekit/platform/bbolt"
	"github.com/cognirehab/securekit/ratelimit"
	"github.com/cognirehab/securekit/recaptcha"
	"github.com/cognirehab/securekit/securestore"
	"github.com/cognirehab/securekit/session"
	"github.com/cognirehab/securekit/token"
)

var listenAddr string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the security agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		kv, err := bboltstore.NewStoreFromFile(cfg.DBPath, nil)
		if err != nil {
			return fmt.Errorf("opening local store: %w", err)
		}
		defer kv.Close()

		store, err := securestore.New(kv, cfg.StorageSecret,
			securestore.WithLogger(logger),
			securestore.WithQuota(cfg.StorageQuotaBytes))
		if err != nil {
			return fmt.Errorf("opening secure storage: %w", err)
		}
		cacheSvc := cache.New(store, cache.WithLogger(logger))

		client, err := backend.NewHTTPClient(cfg.BackendURL, cfg.BackendPublicKey,
			backend.WithHTTPLogger(logger))
		if err != nil {
			return fmt.Errorf("creating backend client: %w", err)
		}

		monitor := platform.NewMonitor(true)
		auditSvc := audit.NewService(client, store, monitor, audit.WithLogger(logger))
		defer auditSvc.Close()

		tokens, err := token.NewManager(cfg.JWTSecret, client)
		if err != nil {
			return fmt.Errorf("creating token manager: %w", err)
		}
		sessions := session.NewManager(client, tokens)

		lang, err := language.Parse(cfg.Language)
		if err != nil {
			lang = language.English
		}

		opts := []authsession.Option{
			authsession.WithLogger(logger),
			authsession.WithLanguage(lang),
			authsession.WithRateLimiter(ratelimit.NewLimiter()),
			authsession.WithRefreshRetry(time.Second, cfg.RefreshAttemptsCap),
		}
		if cfg.CaptchaEnabled() {
			opts = append(opts, authsession.WithCaptcha(recaptcha.NewVerifier(client)))
		}
		auth := authsession.NewManager(client, auditSvc, cacheSvc, opts...)
		defer auth.Close()

		if err := auth.Initialize(cmd.Context()); err != nil {
			logger.Warn("session restore failed", "error", err)
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Post("/session/validate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SessionID string `json:"session_id"`
				Token     string `json:"token"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			valid, err := sessions.Validate(r.Context(), req.SessionID, req.Token)
			if err != nil {
				logger.Warn("session validation", "error", err)
				http.Error(w, "validation failed", http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
		})
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			type status struct {
				State       string      `json:"state"`
				Online      bool        `json:"online"`
				QueuedAudit int         `json:"queued_audit_events"`
				Cache       cache.Stats `json:"cache"`
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(status{
				State:       string(auth.State()),
				Online:      monitor.Online(),
				QueuedAudit: auditSvc.QueueLen(),
				Cache:       cacheSvc.GetStats(),
			})
		})

		server := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("SecureKit agent %s listening on %s (data: %s)\n", Version, cfg.ListenAddr, cfg.DBPath)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVar(&listenAddr, "listen", "", "Status endpoint address (overrides SECUREKIT_LISTEN_ADDR)")
}
