package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailtrack/internal/api"
	"github.com/ignite/mailtrack/internal/app"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/service/tracks"
	"github.com/ignite/mailtrack/internal/tracking"
)

// waiter is satisfied by both ingesters; shutdown drains whichever is in use.
type waiter interface {
	tracking.Ingester
	Wait(ctx context.Context) error
}

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v\n"+
			"  Hint: Run 'lsof -i :<port>' to find the blocking process", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	log.Println("mailtrack server starting (pixel + management API)")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	app.ConfigureLogger(cfg.Logging)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDB(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	redisClient := app.OpenRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	core, err := app.NewCore(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer core.Close()
	if !core.Notifier.Enabled() {
		log.Println("Notifications disabled — opens are still recorded and latched")
	}

	var ingest waiter
	if cfg.Tracking.UsesSQS() {
		sqsClient, err := app.NewSQSClient(ctx, cfg.Tracking.SQSRegion)
		if err != nil {
			log.Fatalf("Failed to initialize SQS: %v", err)
		}
		ingest = tracking.NewPublisher(sqsClient, cfg.Tracking.SQSQueueURL)
		log.Printf("Pixel fetches are queued to SQS (%s); run cmd/worker to process them", cfg.Tracking.SQSQueueURL)
	} else {
		ingest = tracking.NewInlineIngester(core.Opens, cfg.Tracking.ProcessTimeout())
		log.Println("Pixel fetches are processed inline")
	}

	server, err := api.NewServer(cfg.API, api.Deps{
		Pixel:  tracking.NewHandler(ingest),
		Tracks: tracks.NewService(core.Repo, cfg.Server.BaseURL),
		DB:     db,
		Redis:  redisClient,
	})
	if err != nil {
		log.Fatalf("Failed to build API server: %v", err)
	}
	if cfg.API.Key == "" {
		log.Println("Warning: api.key is empty — /api is locked until API_KEY is set")
	}

	var sweeper interface{ Stop() }
	if cfg.Followup.Enabled && cfg.Followup.RunInServer {
		s := app.NewSweeper(cfg, core, redisClient)
		s.Start(ctx)
		sweeper = s
		log.Printf("Follow-up sweeper started (every %s, after %d days)", cfg.Followup.Interval(), cfg.Followup.Days)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s (pixel base %s)", addr, cfg.Server.BaseURL)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	if err := ingest.Wait(shutdownCtx); err != nil {
		log.Printf("Pending pixel fetches abandoned: %v", err)
	}
	cancel()

	log.Println("Server stopped")
}
