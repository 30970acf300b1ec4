// cmd/batch/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"evolveme/config"
	"evolveme/metrics"
	"evolveme/services"
)

var (
	runOnce  bool
	interval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "batch",
	Short: "Backfill embeddings of stored user turns",
	Long: `batch scans the configured store for user turns without a usable
embedding and recomputes it, once or on a fixed interval.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit")
	rootCmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "time between passes")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type storeOpener func(ctx context.Context, cfg config.Config) (services.Store, error)

// openStoreWithRetry tries open up to attempts times, waiting delay between
// tries. It gives up early when ctx is cancelled.
func openStoreWithRetry(ctx context.Context, cfg config.Config, open storeOpener, attempts int, delay time.Duration) (services.Store, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var store services.Store
		store, err = open(ctx, cfg)
		if err == nil {
			return store, nil
		}
		log.Printf("Attempt %d: Failed to open %s store: %v", i+1, cfg.StoreBackend, err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("open store after retries: %w", err)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStoreWithRetry(ctx, cfg, services.OpenStore, 3, 2*time.Second)
	if err != nil {
		return err
	}
	defer store.Close()

	processor := services.NewBatchProcessor(store, metrics.New(cfg.MetricsNamespace, prometheus.DefaultRegisterer))

	log.Println("Starting batch processing service...")
	if _, err := processor.ProcessConversations(ctx); err != nil {
		log.Printf("Error in initial processing: %v", err)
	}
	if runOnce {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Batch processing stopped")
			return nil
		case <-ticker.C:
			log.Println("Starting scheduled batch processing...")
			if _, err := processor.ProcessConversations(ctx); err != nil {
				log.Printf("Error processing conversations: %v", err)
			}
			log.Println("Batch processing completed")
		}
	}
}
