package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apirelay/internal/auth"
	"apirelay/internal/logger"
	"apirelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, console API and mock API",
		Args:  cobra.NoArgs,
		Run:   runServe,
	}
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := mustConfig()
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg)
	defer store.Close()

	rl, err := newRelay(cfg)
	if err != nil {
		exitWith("Failed to build relay", err)
	}

	var verifier *auth.Verifier
	if cfg.Auth.Mode == auth.ModeJWT {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	} else {
		log.Warn("auth mode none: trusting the " + auth.UserHeader + " header")
	}

	srv := server.New(cfg, rl, store, auth.NewAuthenticator(cfg.Auth.Mode, verifier), log.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			exitWith("Server failed", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}
}
