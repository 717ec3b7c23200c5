// Command tracking is a stateless pixel edge: it serves /p/{id}.gif and
// queues every fetch to SQS for cmd/worker, without touching the database.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ignite/mailtrack/internal/app"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Tracking.SQSQueueURL == "" {
		log.Fatal("tracking.sqs_queue_url (or SQS_QUEUE_URL) is required")
	}
	app.ConfigureLogger(cfg.Logging)

	sqsClient, err := app.NewSQSClient(context.Background(), cfg.Tracking.SQSRegion)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	pub := tracking.NewPublisher(sqsClient, cfg.Tracking.SQSQueueURL)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	tracking.NewHandler(pub).Mount(r)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler())

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if err := pub.Wait(ctx); err != nil {
		log.Printf("unsent tracking events dropped: %v", err)
	}
}
