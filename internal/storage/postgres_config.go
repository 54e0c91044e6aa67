package storage

import "time"

// PostgresConfig captures pool tuning for the Postgres repository.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
	// OperationTimeout bounds individual queries issued by the repository.
	OperationTimeout time.Duration
}

const defaultPostgresOperationTimeout = 5 * time.Second

func (cfg PostgresConfig) operationTimeout() time.Duration {
	if cfg.OperationTimeout > 0 {
		return cfg.OperationTimeout
	}
	return defaultPostgresOperationTimeout
}
