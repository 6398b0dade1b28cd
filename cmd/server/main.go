// Command server starts the Instagram facade HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"instabridge/internal/api"
	"instabridge/internal/observability/logging"
	"instabridge/internal/observability/metrics"
	"instabridge/internal/platform"
	"instabridge/internal/server"
	"instabridge/internal/session"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	corsOrigins := flag.String("cors-origins", "", "comma separated list of allowed CORS origins (empty allows all)")
	opaqueTokens := flag.Bool("opaque-tokens", false, "issue random hex session tokens instead of username-timestamp tokens")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or redis)")
	redisAddr := flag.String("session-redis-addr", "", "Redis address for the shared session store")
	redisAddrs := flag.String("session-redis-addrs", "", "comma separated Redis addresses for the shared session store")
	redisUsername := flag.String("session-redis-username", "", "Redis username for the session store")
	redisPassword := flag.String("session-redis-password", "", "Redis password for the session store")
	redisMasterName := flag.String("session-redis-sentinel-master", "", "Redis sentinel master name for the session store")
	redisPoolSize := flag.Int("session-redis-pool-size", 0, "maximum Redis connections for the session store")
	redisTimeout := flag.Duration("session-redis-timeout", 0, "timeout for Redis session store operations")
	redisTLSCA := flag.String("session-redis-tls-ca", "", "path to Redis TLS CA certificate for the session store")
	redisTLSCert := flag.String("session-redis-tls-cert", "", "path to Redis TLS client certificate for the session store")
	redisTLSKey := flag.String("session-redis-tls-key", "", "path to Redis TLS client key for the session store")
	redisTLSServerName := flag.String("session-redis-tls-server-name", "", "override Redis TLS server name for the session store")
	redisTLSSkipVerify := flag.Bool("session-redis-tls-skip-verify", false, "skip Redis TLS verification for the session store")
	vaultDriver := flag.String("vault", "", "settings vault driver (none, file, or postgres)")
	vaultDir := flag.String("vault-dir", "", "directory for the file vault")
	vaultDSN := flag.String("vault-postgres-dsn", "", "Postgres connection string for the vault")
	vaultTimeout := flag.Duration("vault-timeout", 0, "timeout for vault queries")
	platformBaseURL := flag.String("platform-base-url", "", "override the upstream platform base URL")
	platformUserAgent := flag.String("platform-user-agent", "", "override the upstream platform user agent")
	platformTimeout := flag.Duration("platform-timeout", 0, "timeout for upstream platform requests")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("INSTABRIDGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("INSTABRIDGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("INSTABRIDGE_MODE"))
	listenAddr := resolveListenAddr(*addr, os.Getenv("INSTABRIDGE_ADDR"), os.Getenv("PORT"))

	platformCfg := platform.HTTPClientConfig{
		BaseURL:   firstNonEmpty(*platformBaseURL, os.Getenv("INSTABRIDGE_PLATFORM_BASE_URL")),
		UserAgent: firstNonEmpty(*platformUserAgent, os.Getenv("INSTABRIDGE_PLATFORM_USER_AGENT")),
		Timeout:   resolveDuration(*platformTimeout, "INSTABRIDGE_PLATFORM_TIMEOUT", 0),
	}
	factory := platform.NewFactory(platformCfg)

	sealer, err := resolveSealer(os.Getenv("INSTABRIDGE_VAULT_KEY"))
	if err != nil {
		logger.Error("invalid vault key", "error", err)
		os.Exit(1)
	}

	var (
		vault       session.SettingsVault
		vaultCloser func(context.Context) error
	)
	switch resolveVaultDriver(*vaultDriver, os.Getenv("INSTABRIDGE_VAULT"), *vaultDSN, os.Getenv("INSTABRIDGE_VAULT_POSTGRES_DSN")) {
	case "none":
	case "file":
		dir := firstNonEmpty(*vaultDir, os.Getenv("INSTABRIDGE_VAULT_DIR"), "sessions")
		var fileOpts []session.FileVaultOption
		if sealer != nil {
			fileOpts = append(fileOpts, session.WithSealer(sealer))
		}
		fileVault, err := session.NewFileVault(dir, fileOpts...)
		if err != nil {
			logger.Error("failed to open file vault", "error", err)
			os.Exit(1)
		}
		vault = fileVault
	case "postgres":
		dsn := firstNonEmpty(*vaultDSN, os.Getenv("INSTABRIDGE_VAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
		if dsn == "" {
			logger.Error("postgres vault selected without DSN")
			os.Exit(1)
		}
		var pgOpts []session.PostgresVaultOption
		if timeout := resolveDuration(*vaultTimeout, "INSTABRIDGE_VAULT_TIMEOUT", 0); timeout > 0 {
			pgOpts = append(pgOpts, session.WithVaultTimeout(timeout))
		}
		if sealer != nil {
			pgOpts = append(pgOpts, session.WithVaultSealer(sealer))
		}
		pgVault, err := session.NewPostgresVault(context.Background(), dsn, pgOpts...)
		if err != nil {
			logger.Error("failed to open postgres vault", "error", err)
			os.Exit(1)
		}
		vault = pgVault
		vaultCloser = pgVault.Close
	default:
		logger.Error("unsupported vault driver", "driver", *vaultDriver)
		os.Exit(1)
	}

	var (
		registryOpts []session.Option
		storeCloser  func() error
	)
	if resolveBool(*opaqueTokens, "INSTABRIDGE_OPAQUE_TOKENS") {
		registryOpts = append(registryOpts, session.WithOpaqueTokens(0))
	}
	switch strings.ToLower(firstNonEmpty(*sessionStoreDriver, os.Getenv("INSTABRIDGE_SESSION_STORE"), "memory")) {
	case "memory":
	case "redis":
		redisCfg := session.RedisConfig{
			Addr:         firstNonEmpty(*redisAddr, os.Getenv("INSTABRIDGE_SESSION_REDIS_ADDR")),
			Addrs:        splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("INSTABRIDGE_SESSION_REDIS_ADDRS"))),
			Username:     firstNonEmpty(*redisUsername, os.Getenv("INSTABRIDGE_SESSION_REDIS_USERNAME")),
			Password:     firstNonEmpty(*redisPassword, os.Getenv("INSTABRIDGE_SESSION_REDIS_PASSWORD")),
			MasterName:   firstNonEmpty(*redisMasterName, os.Getenv("INSTABRIDGE_SESSION_REDIS_SENTINEL_MASTER")),
			PoolSize:     resolveInt(*redisPoolSize, "INSTABRIDGE_SESSION_REDIS_POOL_SIZE"),
			DialTimeout:  resolveDuration(*redisTimeout, "INSTABRIDGE_SESSION_REDIS_TIMEOUT", 0),
			ReadTimeout:  resolveDuration(*redisTimeout, "INSTABRIDGE_SESSION_REDIS_TIMEOUT", 0),
			WriteTimeout: resolveDuration(*redisTimeout, "INSTABRIDGE_SESSION_REDIS_TIMEOUT", 0),
			TLS: session.RedisTLSConfig{
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("INSTABRIDGE_SESSION_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("INSTABRIDGE_SESSION_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("INSTABRIDGE_SESSION_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("INSTABRIDGE_SESSION_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "INSTABRIDGE_SESSION_REDIS_TLS_SKIP_VERIFY"),
			},
		}
		restore := func(ctx context.Context, settings []byte) (platform.Client, error) {
			client := factory()
			if err := client.Restore(ctx, settings); err != nil {
				return nil, err
			}
			return client, nil
		}
		redisStore, err := session.NewRedisStore(redisCfg, restore)
		if err != nil {
			logger.Error("failed to configure redis session store", "error", err)
			os.Exit(1)
		}
		registryOpts = append(registryOpts, session.WithStore(redisStore))
		storeCloser = redisStore.Close
	default:
		logger.Error("unsupported session store driver", "driver", *sessionStoreDriver)
		os.Exit(1)
	}
	registry := session.NewRegistry(registryOpts...)

	handler := api.NewHandler(registry, factory)
	handler.Vault = vault
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.Environment = serverMode

	srv, err := server.New(handler, server.Config{
		Addr:    listenAddr,
		CORS:    server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("INSTABRIDGE_CORS_ORIGINS")))},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("Instagram facade listening", "addr", listenAddr, "mode", serverMode)
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
			logger.Warn("failed to close session store", "error", err)
		}
	}
	if vaultCloser != nil {
		if err := vaultCloser(ctx); err != nil {
			logger.Warn("failed to close vault", "error", err)
		}
	}

	logger.Info("server stopped")
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

// resolveListenAddr honours an explicit address first, then the PORT
// convention used by container platforms, then the default port 8000.
func resolveListenAddr(flagValue, envAddr, envPort string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(envAddr); addr != "" {
		return addr
	}
	if port := strings.TrimSpace(envPort); port != "" {
		return ":" + port
	}
	return ":8000"
}

// resolveVaultDriver infers the postgres vault when only a DSN is
// configured, otherwise no vault is used.
func resolveVaultDriver(flagValue, envValue, flagDSN, envDSN string) string {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver == "" {
		if strings.TrimSpace(firstNonEmpty(flagDSN, envDSN)) != "" {
			return "postgres"
		}
		return "none"
	}
	return driver
}

func resolveSealer(hexKey string) (*session.Sealer, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, nil
	}
	sealer, err := session.NewSealer(hexKey)
	if err != nil {
		return nil, fmt.Errorf("INSTABRIDGE_VAULT_KEY: %w", err)
	}
	return sealer, nil
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
