// Command gateway starts the mediagate HTTP service: a policy-driven proxy
// for streaming media resources plus the cached home-bundle aggregate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediagate/internal/aggregate"
	"mediagate/internal/api"
	"mediagate/internal/cache"
	"mediagate/internal/config"
	"mediagate/internal/observability/logging"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/proxy"
	"mediagate/internal/server"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	policyPath := flag.String("policy", "", "path to YAML policy file")
	cacheDriver := flag.String("cache-driver", "", "cache store driver (redis, leveldb, or memory)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the cache store")
	redisAddrs := flag.String("redis-addrs", "", "comma-separated Redis addresses")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisMasterName := flag.String("redis-master-name", "", "Redis sentinel master name")
	redisTimeout := flag.Duration("redis-timeout", 0, "Redis dial timeout")
	redisPoolSize := flag.Int("redis-pool-size", 0, "Redis connection pool size")
	redisTLSCA := flag.String("redis-tls-ca", "", "path to Redis TLS CA bundle")
	redisTLSCert := flag.String("redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("redis-tls-server-name", "", "expected Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("redis-tls-skip-verify", false, "skip Redis TLS certificate verification")
	leveldbPath := flag.String("leveldb-path", "", "path to the LevelDB cache directory")
	upstreamTimeout := flag.Duration("upstream-timeout", 0, "timeout for each upstream fetch")
	bundleTTL := flag.Duration("bundle-ttl", 0, "cache TTL for the home bundle")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	clientLimit := flag.Int("rate-client-limit", 0, "maximum proxy requests per window for a single IP")
	clientWindow := flag.Duration("rate-client-window", 0, "window for the per-IP proxy limit")
	corsOrigins := flag.String("cors-origins", "", "comma-separated frontend origins allowed cross-origin")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAGATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAGATE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	policy, err := config.Load(firstNonEmpty(*policyPath, os.Getenv("MEDIAGATE_POLICY_FILE")))
	if err != nil {
		logger.Error("failed to load policy file", "error", err)
		os.Exit(1)
	}

	store, storeCloser, err := configureCacheStore(cacheStoreConfig{
		Driver:      firstNonEmpty(*cacheDriver, os.Getenv("MEDIAGATE_CACHE_DRIVER")),
		LevelDBPath: firstNonEmpty(*leveldbPath, os.Getenv("MEDIAGATE_LEVELDB_PATH")),
		Redis: cache.RedisConfig{
			Addr:        firstNonEmpty(*redisAddr, os.Getenv("MEDIAGATE_REDIS_ADDR")),
			Addrs:       splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("MEDIAGATE_REDIS_ADDRS"))),
			Username:    firstNonEmpty(*redisUsername, os.Getenv("MEDIAGATE_REDIS_USERNAME")),
			Password:    firstNonEmpty(*redisPassword, os.Getenv("MEDIAGATE_REDIS_PASSWORD")),
			MasterName:  firstNonEmpty(*redisMasterName, os.Getenv("MEDIAGATE_REDIS_MASTER_NAME")),
			DialTimeout: resolveDuration(*redisTimeout, "MEDIAGATE_REDIS_TIMEOUT", 2*time.Second),
			PoolSize:    resolveInt(*redisPoolSize, "MEDIAGATE_REDIS_POOL_SIZE"),
			TLS: cache.RedisTLSConfig{
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("MEDIAGATE_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("MEDIAGATE_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("MEDIAGATE_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("MEDIAGATE_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "MEDIAGATE_REDIS_TLS_SKIP_VERIFY"),
			},
		},
	}, logger)
	if err != nil {
		logger.Error("failed to configure cache store", "error", err)
		os.Exit(1)
	}

	fetcher := proxy.NewFetcher(proxy.FetcherConfig{
		Timeout: resolveDuration(*upstreamTimeout, "MEDIAGATE_UPSTREAM_TIMEOUT", 15*time.Second),
		Metrics: recorder,
	})
	gateway := proxy.New(proxy.Config{
		Fetcher:      fetcher,
		HeaderPolicy: proxy.NewHeaderPolicy(policy.Headers.StrictFamilies),
		ImagePool:    proxy.NewHostPool(policy.ImagePool.Domain, policy.ImagePool.Prefixes, policy.ImagePool.Numbers),
		ProxyPath:    "/proxy",
		Logger:       logging.WithComponent(logger, "proxy"),
		Metrics:      recorder,
	})

	providerClient := &http.Client{Timeout: 10 * time.Second}
	home := aggregate.NewHomeBuilder(aggregate.HomeProviders{
		Spotlight:      buildProvider(policy.Providers.Spotlight, providerClient),
		RecentEpisodes: buildProvider(policy.Providers.RecentEpisodes, providerClient),
		MostPopular:    buildProvider(policy.Providers.MostPopular, providerClient),
		TopAiring:      buildProvider(policy.Providers.TopAiring, providerClient),
		Genres:         buildProvider(policy.Providers.Genres, providerClient),
	}, policy.Bundle.SpotlightLimit, policy.Bundle.SectionLimit, logging.WithComponent(logger, "home"), recorder)
	aggregator := aggregate.NewAggregator(store, logging.WithComponent(logger, "aggregate"), recorder)

	handler := &api.Handler{
		Gateway:    gateway,
		Aggregator: aggregator,
		Home:       home,
		Cache:      store,
		BundleTTL:  resolveDuration(*bundleTTL, "MEDIAGATE_BUNDLE_TTL", policy.Bundle.TTL),
		Logger:     logging.WithComponent(logger, "api"),
	}

	srv, err := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("MEDIAGATE_ADDR"), ":8080"),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAGATE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAGATE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:      resolveFloat(*globalRPS, "MEDIAGATE_RATE_GLOBAL_RPS"),
			GlobalBurst:    resolveInt(*globalBurst, "MEDIAGATE_RATE_GLOBAL_BURST"),
			PerClientLimit: resolveInt(*clientLimit, "MEDIAGATE_RATE_CLIENT_LIMIT"),
			PerClientWin:   resolveDuration(*clientWindow, "MEDIAGATE_RATE_CLIENT_WINDOW", time.Minute),
			Store:          store,
		},
		CORS: server.CORSConfig{
			Origins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("MEDIAGATE_CORS_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("mediagate listening", "addr", srv.HTTPServer().Addr)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if storeCloser != nil {
		if err := storeCloser(); err != nil {
			logger.Warn("failed to close cache store", "error", err)
		}
	}
}

type cacheStoreConfig struct {
	Driver      string
	LevelDBPath string
	Redis       cache.RedisConfig
}

func configureCacheStore(cfg cacheStoreConfig, logger *slog.Logger) (cache.Store, func() error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		switch {
		case cfg.Redis.Addr != "" || len(cfg.Redis.Addrs) > 0:
			driver = "redis"
		case cfg.LevelDBPath != "":
			driver = "leveldb"
		default:
			driver = "memory"
		}
	}
	switch driver {
	case "redis":
		store, err := cache.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache store configured", "driver", "redis")
		return store, store.Close, nil
	case "leveldb":
		if cfg.LevelDBPath == "" {
			return nil, nil, fmt.Errorf("leveldb cache driver requires a path")
		}
		store, err := cache.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache store configured", "driver", "leveldb", "path", cfg.LevelDBPath)
		return store, store.Close, nil
	case "memory":
		logger.Info("cache store configured", "driver", "memory")
		return cache.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}

func buildProvider(endpoint config.ProviderEndpoint, client *http.Client) aggregate.Provider {
	if endpoint.URL == "" {
		return nil
	}
	primary := aggregate.NewHTTPProvider(endpoint.Name, endpoint.URL, client)
	if endpoint.Secondary == "" {
		return primary
	}
	secondary := aggregate.NewHTTPProvider(endpoint.Name+"-fallback", endpoint.Secondary, client)
	return aggregate.WithFallback(primary, secondary)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
