// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tidegate/tidegate/pkg/cache"
	"github.com/tidegate/tidegate/pkg/gateway/guard"
	"github.com/tidegate/tidegate/pkg/gateway/multipart"
	"github.com/tidegate/tidegate/pkg/gateway/object"
	"github.com/tidegate/tidegate/pkg/iam"
	"github.com/tidegate/tidegate/pkg/logger"
	"github.com/tidegate/tidegate/pkg/metadata/db"
	"github.com/tidegate/tidegate/pkg/metadata/db/memory"
	"github.com/tidegate/tidegate/pkg/metadata/db/postgres"
	"github.com/tidegate/tidegate/pkg/storage/placer"
	"github.com/tidegate/tidegate/pkg/storage/shark"
	"github.com/tidegate/tidegate/pkg/types"
)

type GatewayOpts struct {
	IP       string
	OpsPort  int
	LogLevel string

	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	SharksConfig string

	AccountCacheEnabled  bool
	AccountCacheAddr     string
	AccountCachePassword string
	AccountCacheDB       int
	AccountCachePoolSize int
	AccountCacheTTL      time.Duration
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway",
	Long: `Start a tidegate gateway that owns the object mutation path:
conditional-request evaluation, etag-guarded metadata writes, and the
multipart-upload lifecycle. Serves /metrics and health endpoints.`,
	Run: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	f := gatewayCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("ops_port", 8090, "HTTP port for metrics and health endpoints")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")

	f.String("db_driver", "memory", "Metadata store driver (memory, postgres)")
	f.String("db_dsn", "", "Metadata store connection string (postgres)")
	f.Int("db_max_open_conns", 25, "Maximum open database connections")
	f.Int("db_max_idle_conns", 5, "Maximum idle database connections")

	f.String("sharks_config", "", "Path to storage node pool JSON config file")

	f.Bool("account_cache_enabled", false, "Enable the redis account cache")
	f.String("account_cache_addr", "localhost:6379", "Redis address for the account cache")
	f.String("account_cache_password", "", "Redis password")
	f.Int("account_cache_db", 0, "Redis database number")
	f.Int("account_cache_pool_size", 10, "Redis connection pool size")
	f.Duration("account_cache_ttl", 5*time.Minute, "TTL for cached account entries")

	viper.BindPFlags(f)
}

func loadGatewayOpts(cmd *cobra.Command) GatewayOpts {
	l := NewFlagLoader(cmd)
	return GatewayOpts{
		IP:       l.String("ip"),
		OpsPort:  l.Int("ops_port"),
		LogLevel: l.String("log_level"),

		DBDriver:       l.String("db_driver"),
		DBDSN:          l.String("db_dsn"),
		DBMaxOpenConns: l.Int("db_max_open_conns"),
		DBMaxIdleConns: l.Int("db_max_idle_conns"),

		SharksConfig: l.String("sharks_config"),

		AccountCacheEnabled:  l.Bool("account_cache_enabled"),
		AccountCacheAddr:     l.String("account_cache_addr"),
		AccountCachePassword: l.String("account_cache_password"),
		AccountCacheDB:       l.Int("account_cache_db"),
		AccountCachePoolSize: l.Int("account_cache_pool_size"),
		AccountCacheTTL:      l.Duration("account_cache_ttl"),
	}
}

type gatewayServer struct {
	store    db.Store
	accounts multipart.AccountGetter
	uploads  multipart.Service
	objects  object.Service
}

func runGateway(cmd *cobra.Command, args []string) {
	loadConfiguration("tidegate")
	opts := loadGatewayOpts(cmd)
	applyLogLevel(opts.LogLevel)

	store, err := openStore(cmd.Context(), opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open metadata store")
	}
	defer store.Close()
	store = db.WithMetrics(store)

	var accounts multipart.AccountGetter = store
	if opts.AccountCacheEnabled {
		cacheCfg := cache.DefaultAccountCacheConfig()
		cacheCfg.Addr = opts.AccountCacheAddr
		cacheCfg.Password = opts.AccountCachePassword
		cacheCfg.DB = opts.AccountCacheDB
		cacheCfg.PoolSize = opts.AccountCachePoolSize
		cacheCfg.TTL = opts.AccountCacheTTL

		accountCache, err := cache.NewAccountCache(store, cacheCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to account cache")
		}
		defer accountCache.Close()
		accounts = accountCache
		logger.Info().Str("addr", cacheCfg.Addr).Msg("account cache enabled")
	}

	sharks, err := loadSharks(opts.SharksConfig)
	if err != nil {
		logger.Fatal().Err(err).Str("file", opts.SharksConfig).Msg("failed to load shark pool")
	}
	pool := placer.NewRoundRobinPlacer(sharks)
	sink := shark.NewFanoutSink(shark.NewMemoryClient())
	writeGuard := guard.New(store)

	uploads, err := multipart.NewService(multipart.Config{
		Store:    store,
		Accounts: accounts,
		Placer:   pool,
		Sink:     sink,
		Guard:    writeGuard,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize multipart service")
	}

	objects, err := object.NewService(object.Config{
		Store:    store,
		Accounts: accounts,
		Placer:   pool,
		Sink:     sink,
		Guard:    writeGuard,
		Roles:    iam.NewStaticResolver(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize object service")
	}

	server := &gatewayServer{
		store:    store,
		accounts: accounts,
		uploads:  uploads,
		objects:  objects,
	}

	var capacity uint64
	for _, s := range sharks {
		capacity += s.TotalBytes
	}
	logger.Info().
		Str("db_driver", opts.DBDriver).
		Int("sharks", len(sharks)).
		Str("pool_capacity", humanize.IBytes(capacity)).
		Bool("multipart", server.uploads != nil).
		Bool("objects", server.objects != nil).
		Msg("gateway initialized")

	serveOps(cmd.Context(), server, fmt.Sprintf("%s:%d", opts.IP, opts.OpsPort))
}

func openStore(ctx context.Context, opts GatewayOpts) (db.Store, error) {
	switch db.Driver(opts.DBDriver) {
	case db.DriverMemory:
		return memory.New(), nil
	case db.DriverPostgres:
		cfg := db.DefaultConfig(db.DriverPostgres)
		cfg.DSN = opts.DBDSN
		cfg.MaxOpenConns = opts.DBMaxOpenConns
		cfg.MaxIdleConns = opts.DBMaxIdleConns
		store, err := postgres.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", opts.DBDriver)
	}
}

// loadSharks reads the storage node pool from a JSON file. Without a
// file the gateway starts with an empty pool; placement fails until the
// pool is refreshed, which suits metadata-only deployments.
func loadSharks(path string) ([]*types.Shark, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sharks []*types.Shark
	if err := json.Unmarshal(data, &sharks); err != nil {
		return nil, err
	}
	return sharks, nil
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return
	}
	logger.SetLevel(parsed)
}

// serveOps runs the metrics and health endpoints until the process is
// signalled.
func serveOps(ctx context.Context, server *gatewayServer, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// A store round trip proves the backend is reachable; the
		// probe account never exists.
		_, err := server.store.GetAccount(r.Context(), uuid.Nil)
		if err != nil && err != db.ErrAccountNotFound {
			http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("ops endpoints listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ops server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
}
