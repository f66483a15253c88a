package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"instantlly/internal/auth"
	"instantlly/internal/commands"
	"instantlly/internal/config"
	"instantlly/internal/gateway"
	"instantlly/internal/http"
	"instantlly/internal/storage"
)

func run(ctx context.Context, issueToken string) error {
	cfg, err := config.LoadGateway(issueToken != "")
	if err != nil {
		return err
	}

	if issueToken != "" {
		return commands.IssueToken(issueToken, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, authConfig, bbStorage)
	if err != nil {
		return err
	}

	hub := gateway.NewHub(bbStorage)

	adminServer := http.NewAdminServer(authService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, hub, bbStorage, gateway.ServerOptions{
		PingInterval: cfg.PingInterval,
		PingTimeout:  cfg.PingTimeout,
	}, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start Gateway
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Gateway shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	issueToken := flag.String("issue-token", "", "User ID to issue a token for (asks the running gateway and prints the token)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *issueToken); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
