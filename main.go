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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"evolveme/config"
	"evolveme/controllers"
	"evolveme/metrics"
	"evolveme/routes"
	"evolveme/services"
)

type storeOpener func(ctx context.Context, cfg config.Config) (services.Store, error)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, services.OpenStore); err != nil {
		log.Printf("Server stopped: %v", err)
		stop()
		os.Exit(1)
	}
}

// run serves the chat API until ctx is cancelled. The store is closed on
// every return path.
func run(ctx context.Context, cfg config.Config, openStore storeOpener) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	llm, err := services.NewCompletionClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(cfg.MetricsNamespace, registry)

	retriever := services.NewMemoryRetriever(store, m)
	assembler := services.NewContextAssembler(retriever, cfg.Memory, m)
	chat := services.NewChatService(store, assembler, llm, m)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: routes.SetupRouter(controllers.NewChatController(chat), metrics.Handler(registry)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s (store=%s, llm=%s)", srv.Addr, cfg.StoreBackend, cfg.LLM.Client)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Printf("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
