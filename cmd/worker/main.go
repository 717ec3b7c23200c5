package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/mailtrack/internal/app"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting mailtrack worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	app.ConfigureLogger(cfg.Logging)

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

	var consumer *tracking.Consumer
	if cfg.Tracking.UsesSQS() {
		sqsClient, err := app.NewSQSClient(ctx, cfg.Tracking.SQSRegion)
		if err != nil {
			log.Fatalf("Failed to initialize SQS: %v", err)
		}
		consumer = tracking.NewConsumer(sqsClient, cfg.Tracking.SQSQueueURL, core.Opens, cfg.Tracking.ProcessTimeout())
		consumer.Start(ctx)
	} else {
		log.Println("tracking.ingest is inline — no queue to consume")
	}

	sweeper := app.NewSweeper(cfg, core, redisClient)
	if cfg.Followup.Enabled {
		sweeper.Start(ctx)
		log.Printf("Follow-up sweeper started (every %s, after %d days)", cfg.Followup.Interval(), cfg.Followup.Days)
	} else {
		log.Println("Follow-up sweeper disabled")
	}

	if consumer == nil && !cfg.Followup.Enabled {
		log.Println("Nothing to do; exiting")
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	if consumer != nil {
		consumer.Stop()
	}
	sweeper.Stop()
	cancel()

	log.Println("Worker stopped")
}
