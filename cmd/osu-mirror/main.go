// Command osu-mirror serves a read-through cache and metadata mirror for
// osu! beatmapsets: it resolves catalog metadata locally, falls back to the
// upstream API and a pool of public download mirrors on a cache miss, and
// keeps its local catalog warm with a background sync scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osumirror/mirror/internal/api"
	"github.com/osumirror/mirror/internal/httpclient"
	"github.com/osumirror/mirror/internal/config"
	"github.com/osumirror/mirror/internal/db"
	"github.com/osumirror/mirror/internal/metrics"
	"github.com/osumirror/mirror/internal/mirror"
	"github.com/osumirror/mirror/internal/ratelimit"
	"github.com/osumirror/mirror/internal/storage"
	syncpkg "github.com/osumirror/mirror/internal/sync"
	"github.com/osumirror/mirror/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	st, err := storage.New(cfg.Storage.Backend,
		storage.LocalConfig{Path: cfg.Storage.Local.Path},
		storage.S3Config{
			Endpoint: cfg.Storage.S3.Endpoint,
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Prefix:   cfg.Storage.S3.Prefix,
		},
	)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	dbPath := dbPathFromURL(cfg.Database.URL)
	gateway, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer gateway.Close()

	budget := upstream.NewBudget(upstream.DefaultBudgetCapacity)
	budget.StartReplenisher(upstream.DefaultReplenishInterval)
	defer budget.Stop()

	client := upstream.NewClient(cfg.Osu.ClientID, cfg.Osu.ClientSecret, budget)
	engine := mirror.New()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.RequestsPerMinute,
		Window:      time.Minute,
	})
	downloadLimiter := ratelimit.NewDownloadLimiter(cfg.RateLimit.DownloadsPer10Min)

	server := api.NewServer(gateway, client, engine, st, downloadLimiter)
	mux := http.NewServeMux()
	server.Routes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Crawler.Enabled {
		interval := time.Duration(cfg.Crawler.SyncIntervalSeconds) * time.Second
		crawlClient := upstream.NewClient(cfg.Osu.ClientID, cfg.Osu.ClientSecret, budget,
			upstream.WithRetryPolicy(httpclient.CrawlRetryPolicy))
		scheduler := syncpkg.New(gateway, crawlClient, interval)
		go scheduler.Run(ctx)
	} else {
		log.Printf("main: background sync disabled by config")
	}

	port := cfg.Server.Port
	if port <= 0 {
		port = 8080
	}
	addr := cfg.Server.Host + ":" + strconv.Itoa(port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: api.WithRequestID(limiter.Middleware(mux)),
	}

	log.Printf("listening on %s", addr)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// dbPathFromURL strips a "sqlite://" scheme prefix if present, since the
// config's database.url follows the original's connection-string
// convention but modernc.org/sqlite takes a plain filesystem path.
func dbPathFromURL(url string) string {
	return strings.TrimPrefix(url, "sqlite://")
}
