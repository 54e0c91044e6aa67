// Command server starts the StreamVault HTTP service and its transcoding
// workers in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"streamvault/internal/api"
	"streamvault/internal/auth"
	"streamvault/internal/media"
	"streamvault/internal/notify"
	"streamvault/internal/observability/logging"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/pipeline"
	"streamvault/internal/queue"
	"streamvault/internal/server"
	"streamvault/internal/serverutil"
	"streamvault/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mediaRoot := flag.String("media-root", "", "root directory for originals and generated artefacts")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "job queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisStream := flag.String("queue-redis-stream", "", "Redis stream key for transcode jobs")
	queueRedisGroup := flag.String("queue-redis-group", "", "Redis consumer group for transcode jobs")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcode queue")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcode queue")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the transcode queue")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for the transcode queue")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for the transcode queue")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for the transcode queue")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the transcode queue")
	queueMaxAttempts := flag.Int("queue-max-attempts", 0, "delivery attempts before a job is dead-lettered")
	workers := flag.Int("workers", 0, "number of concurrent transcode workers")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffmpegTimeout := flag.Duration("ffmpeg-timeout", 0, "timeout for a single ffmpeg invocation")
	adminToken := flag.String("admin-token", "", "plaintext admin bearer token (prefer the hash form)")
	adminTokenHash := flag.String("admin-token-hash", "", "derived admin token hash (pbkdf2$sha256$...)")
	maxUploadMB := flag.Int("max-upload-mb", 0, "maximum accepted upload size in megabytes")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to play media cross-origin")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMVAULT_LOG_FORMAT")),
	})
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, driver, err := openStore(storeOptions{
		Driver:          *storageDriver,
		DataPath:        *dataPath,
		PostgresDSN:     *postgresDSN,
		MaxConns:        *postgresMaxConns,
		MinConns:        *postgresMinConns,
		MaxConnLifetime: *postgresMaxConnLifetime,
		MaxConnIdle:     *postgresMaxConnIdle,
		HealthInterval:  *postgresHealthInterval,
		ConnectTimeout:  *postgresConnectTimeout,
		AppName:         *postgresAppName,
	})
	if err != nil {
		fatal("open datastore", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("close datastore", "error", err)
		}
	}()
	logger.Info("datastore ready", "driver", driver)

	layout := media.NewLayout(resolveMediaRoot(*mediaRoot))
	if err := layout.EnsureIntake(); err != nil {
		fatal("prepare media root", err)
	}

	jobQueue, queueName, err := openQueue(queueOptions{
		Driver:        *queueDriver,
		Addr:          *queueRedisAddr,
		Addrs:         *queueRedisAddrs,
		Username:      *queueRedisUsername,
		Password:      *queueRedisPassword,
		Stream:        *queueRedisStream,
		Group:         *queueRedisGroup,
		MasterName:    *queueRedisMasterName,
		PoolSize:      *queueRedisPoolSize,
		MaxAttempts:   *queueMaxAttempts,
		TLSCA:         *queueRedisTLSCA,
		TLSCert:       *queueRedisTLSCert,
		TLSKey:        *queueRedisTLSKey,
		TLSServerName: *queueRedisTLSServerName,
		TLSSkipVerify: *queueRedisTLSSkipVerify,
		Logger:        logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		fatal("open job queue", err)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.Error("close job queue", "error", err)
		}
	}()
	logger.Info("job queue ready", "driver", queueName)

	guard, err := resolveAdminGuard(*adminToken, *adminTokenHash)
	if err != nil {
		fatal("configure admin token", err)
	}

	recorder := metrics.Default()
	transcoder := media.NewFFmpeg(media.FFmpegConfig{
		Binary:  firstNonEmpty(*ffmpegBinary, os.Getenv("STREAMVAULT_FFMPEG")),
		Timeout: resolveDuration(*ffmpegTimeout, "STREAMVAULT_FFMPEG_TIMEOUT", 0),
		Logger:  logging.WithComponent(logger, "ffmpeg"),
	})
	notifier := notify.NewLogNotifier(logging.WithComponent(logger, "notify"))

	processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:      store,
		Layout:     layout,
		Transcoder: transcoder,
		Notifier:   notifier,
		Metrics:    recorder,
		Logger:     logging.WithComponent(logger, "pipeline"),
	})
	if err != nil {
		fatal("build pipeline", err)
	}
	worker, err := pipeline.NewWorker(pipeline.WorkerConfig{
		Queue:     jobQueue,
		Processor: processor,
		Store:     store,
		Metrics:   recorder,
		Logger:    logging.WithComponent(logger, "worker"),
		Workers:   resolveInt(*workers, "STREAMVAULT_WORKERS"),
	})
	if err != nil {
		fatal("build worker pool", err)
	}
	if err := worker.RecoverPending(ctx); err != nil {
		fatal("recover pending videos", err)
	}
	worker.Start(ctx)

	handler := api.NewHandler(store, layout, jobQueue, guard)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.MaxUploadBytes = int64(resolveInt(*maxUploadMB, "STREAMVAULT_MAX_UPLOAD_MB")) << 20

	srv, err := server.New(handler, server.Config{
		Addr: resolveListenAddr(*addr, os.Getenv("STREAMVAULT_ADDR")),
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    resolveFloat(*globalRPS, "STREAMVAULT_RATE_GLOBAL_RPS"),
			GlobalBurst:  resolveInt(*globalBurst, "STREAMVAULT_RATE_GLOBAL_BURST"),
			UploadLimit:  resolveInt(*uploadLimit, "STREAMVAULT_RATE_UPLOAD_LIMIT"),
			UploadWindow: resolveDuration(*uploadWindow, "STREAMVAULT_RATE_UPLOAD_WINDOW", 0),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("STREAMVAULT_CORS_ORIGINS"))),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})
	if err != nil {
		fatal("build server", err)
	}

	logger.Info("server starting", "addr", srv.HTTPServer().Addr)
	err = serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMVAULT_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMVAULT_TLS_KEY")),
		},
	})
	if err != nil {
		logger.Error("server stopped", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := worker.Shutdown(drainCtx); err != nil {
		logger.Error("worker shutdown", "error", err)
	}
	logger.Info("server stopped")
}

type storeOptions struct {
	Driver          string
	DataPath        string
	PostgresDSN     string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdle     time.Duration
	HealthInterval  time.Duration
	ConnectTimeout  time.Duration
	AppName         string
}

func openStore(opts storeOptions) (storage.Repository, string, error) {
	dsn := resolvePostgresDSN(opts.PostgresDSN)
	driver, err := resolveStorageDriver(opts.Driver, os.Getenv("STREAMVAULT_STORAGE_DRIVER"), dsn)
	if err != nil {
		return nil, "", err
	}
	switch driver {
	case "json":
		store, err := storage.New(resolveDataPath(opts.DataPath, os.Getenv("STREAMVAULT_DATA_PATH")))
		if err != nil {
			return nil, "", err
		}
		return store, driver, nil
	case "postgres":
		if dsn == "" {
			return nil, "", fmt.Errorf("postgres storage selected without DSN")
		}
		store, err := storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:                 dsn,
			MaxConnections:      int32(resolveInt(opts.MaxConns, "STREAMVAULT_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(opts.MinConns, "STREAMVAULT_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(opts.MaxConnLifetime, "STREAMVAULT_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(opts.MaxConnIdle, "STREAMVAULT_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(opts.HealthInterval, "STREAMVAULT_POSTGRES_HEALTH_INTERVAL", 0),
			ConnectTimeout:      resolveDuration(opts.ConnectTimeout, "STREAMVAULT_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(opts.AppName, os.Getenv("STREAMVAULT_POSTGRES_APP_NAME"), "streamvault"),
		})
		if err != nil {
			return nil, "", err
		}
		return store, driver, nil
	default:
		return nil, "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type queueOptions struct {
	Driver        string
	Addr          string
	Addrs         string
	Username      string
	Password      string
	Stream        string
	Group         string
	MasterName    string
	PoolSize      int
	MaxAttempts   int
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool
	Logger        *slog.Logger
}

func openQueue(opts queueOptions) (queue.Queue, string, error) {
	addr := firstNonEmpty(opts.Addr, os.Getenv("STREAMVAULT_QUEUE_REDIS_ADDR"))
	addrs := splitAndTrim(firstNonEmpty(opts.Addrs, os.Getenv("STREAMVAULT_QUEUE_REDIS_ADDRS")))
	driver := resolveQueueDriver(opts.Driver, os.Getenv("STREAMVAULT_QUEUE_DRIVER"), addr, addrs)
	switch driver {
	case "memory":
		return queue.NewMemoryQueue(queue.MemoryQueueConfig{
			MaxAttempts: resolveInt(opts.MaxAttempts, "STREAMVAULT_QUEUE_MAX_ATTEMPTS"),
			Logger:      opts.Logger,
		}), driver, nil
	case "redis":
		q, err := queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:        addr,
			Addrs:       addrs,
			Username:    firstNonEmpty(opts.Username, os.Getenv("STREAMVAULT_QUEUE_REDIS_USERNAME")),
			Password:    firstNonEmpty(opts.Password, os.Getenv("STREAMVAULT_QUEUE_REDIS_PASSWORD")),
			Stream:      firstNonEmpty(opts.Stream, os.Getenv("STREAMVAULT_QUEUE_REDIS_STREAM")),
			Group:       firstNonEmpty(opts.Group, os.Getenv("STREAMVAULT_QUEUE_REDIS_GROUP")),
			MasterName:  opts.MasterName,
			PoolSize:    opts.PoolSize,
			MaxAttempts: resolveInt(opts.MaxAttempts, "STREAMVAULT_QUEUE_MAX_ATTEMPTS"),
			TLS: queue.RedisTLSConfig{
				CAFile:             opts.TLSCA,
				CertFile:           opts.TLSCert,
				KeyFile:            opts.TLSKey,
				ServerName:         opts.TLSServerName,
				InsecureSkipVerify: opts.TLSSkipVerify,
			},
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, "", err
		}
		return q, driver, nil
	default:
		return nil, "", fmt.Errorf("unsupported queue driver %q", driver)
	}
}

func resolveAdminGuard(flagToken, flagHash string) (*auth.Guard, error) {
	if hash := firstNonEmpty(flagHash, os.Getenv("STREAMVAULT_ADMIN_TOKEN_HASH")); hash != "" {
		return auth.NewGuardFromHash(hash)
	}
	if token := firstNonEmpty(flagToken, os.Getenv("STREAMVAULT_ADMIN_TOKEN")); token != "" {
		return auth.NewGuard(token)
	}
	return nil, fmt.Errorf("no admin token configured: set --admin-token-hash or STREAMVAULT_ADMIN_TOKEN")
}

func resolveListenAddr(flagValue, envValue string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(envValue); addr != "" {
		return addr
	}
	return ":8080"
}

func resolveMediaRoot(flagValue string) string {
	if root := strings.TrimSpace(flagValue); root != "" {
		return root
	}
	if root := strings.TrimSpace(os.Getenv("STREAMVAULT_MEDIA_ROOT")); root != "" {
		return root
	}
	return "data/media"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveQueueDriver(flagValue, envValue, addr string, addrs []string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(addr) != "" || len(addrs) > 0 {
		return "redis"
	}
	return "memory"
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return firstNonEmpty(flagValue, os.Getenv("STREAMVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
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
		if trimmed := strings.TrimSpace(part); trimmed != "" {
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
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
