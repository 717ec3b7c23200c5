// Package app wires the shared dependencies of the mailtrack binaries from a
// loaded config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/geoip"
	"github.com/ignite/mailtrack/internal/notify"
	"github.com/ignite/mailtrack/internal/pkg/distlock"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/repository/postgres"
	"github.com/ignite/mailtrack/internal/service/opens"
	"github.com/ignite/mailtrack/internal/storage"
	"github.com/ignite/mailtrack/internal/worker"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// ConfigureLogger applies the logging section.
func ConfigureLogger(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.RedactsPII())
}

// OpenDB connects to PostgreSQL and verifies the connection.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dbURL := cfg.URL
	if !strings.Contains(dbURL, "connect_timeout") {
		sep := "?"
		if strings.Contains(dbURL, "?") {
			sep = "&"
		}
		dbURL += sep + "connect_timeout=5"
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis returns nil when Redis is not configured or unreachable; callers
// fall back to PG advisory locks and in-memory rate limiting.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		log.Println("Redis not configured — using PG advisory locks and in-memory rate limiting")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(cfg.Addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s", cfg.Addr)
	return client
}

// OpenGeoIP provisions the mmdb file if needed and opens it. Any failure
// degrades to a nil Resolver, which resolves every IP to unknown.
func OpenGeoIP(ctx context.Context, cfg *config.Config) *geoip.Resolver {
	var s3 geoip.FileDownloader
	if cfg.GeoIP.S3Bucket != "" {
		region := cfg.GeoIP.Region
		if region == "" {
			region = "us-east-1"
		}
		store, err := storage.NewS3Store(ctx, region, cfg.GeoIP.AWSProfile)
		if err != nil {
			log.Printf("Warning: GeoIP S3 source unavailable: %v", err)
		} else {
			s3 = store
		}
	}

	src := cfg.GeoIPSource()
	if err := geoip.NewProvisioner(s3, nil).Ensure(ctx, src); err != nil {
		log.Printf("Warning: GeoIP database unavailable (%v) — locations will be unknown", err)
		return nil
	}
	r, err := geoip.Open(src.Path)
	if err != nil {
		log.Printf("Warning: %v — locations will be unknown", err)
		return nil
	}
	log.Printf("GeoIP database loaded: %s", src.Path)
	return r
}

// Core is the recorder, trigger engine and its storage.
type Core struct {
	DB       *sql.DB
	Repo     *postgres.TrackRepo
	Opens    *opens.Service
	Notifier *notify.Notifier
	GeoIP    *geoip.Resolver
}

// NewCore builds the opens service on top of db.
func NewCore(ctx context.Context, cfg *config.Config, db *sql.DB) (*Core, error) {
	n, err := notify.New(ctx, cfg.NotifyConfig())
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	repo := postgres.NewTrackRepo(db)
	geo := OpenGeoIP(ctx, cfg)
	return &Core{
		DB:       db,
		Repo:     repo,
		Opens:    opens.NewService(repo, geo, n, cfg.Opens()),
		Notifier: n,
		GeoIP:    geo,
	}, nil
}

// Close releases the GeoIP database.
func (c *Core) Close() {
	if c.GeoIP != nil {
		c.GeoIP.Close()
	}
}

// NewSweeper builds the follow-up loop guarded by the shared sweep lock.
func NewSweeper(cfg *config.Config, core *Core, rc *redis.Client) *worker.FollowupSweeper {
	interval := cfg.Followup.Interval()
	var client redis.UniversalClient
	if rc != nil {
		client = rc
	}
	lock := distlock.NewLock(client, core.DB, worker.SweepLockKey, worker.SweepLockTTL)
	return worker.NewFollowupSweeper(core.Opens, lock, interval)
}

// NewSQSClient loads the default AWS chain for the tracking queue.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}
