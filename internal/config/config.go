package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Store        string // TRACEGATE_STORE ("postgres" or "memory"; default "postgres")
	DatabaseURL  string // TRACEGATE_DATABASE_URL (required for postgres)
	GRPCAddr     string // TRACEGATE_GRPC_ADDR (default ":9090")
	HTTPAddr     string // TRACEGATE_HTTP_ADDR (default ":8080")
	StationsFile string // TRACEGATE_STATIONS (default "stations.toml")

	// Sessions
	RedisURL         string        // TRACEGATE_REDIS_URL (optional, empty = in-memory sessions)
	SessionTTL       time.Duration // TRACEGATE_SESSION_TTL (default 8h)
	SessionRetention time.Duration // TRACEGATE_SESSION_RETENTION (default 24h)
	HeartbeatGrace   time.Duration // TRACEGATE_HEARTBEAT_GRACE (default 90s)

	// Bootstrap account, created at startup when the password is set and
	// the user does not exist yet.
	AdminUser     string // TRACEGATE_ADMIN_USER (default "admin")
	AdminPassword string // TRACEGATE_ADMIN_PASSWORD

	// Events
	NATSURL      string // TRACEGATE_NATS_URL (optional, empty = no NATS events)
	MQTTURL      string // TRACEGATE_MQTT_URL (optional, empty = no line interlock)
	MQTTClientID string // TRACEGATE_MQTT_CLIENT_ID (default "tracegate")
	MQTTUsername string // TRACEGATE_MQTT_USERNAME
	MQTTPassword string // TRACEGATE_MQTT_PASSWORD
	MQTTQoS      byte   // TRACEGATE_MQTT_QOS (default 1)

	// Export settings
	ExportInterval   time.Duration // TRACEGATE_EXPORT_INTERVAL (default 5m; 0 = disabled)
	ExportBatchSize  int           // TRACEGATE_EXPORT_BATCH (default 5000)
	ExportS3Bucket   string        // TRACEGATE_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string        // TRACEGATE_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string        // TRACEGATE_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Prefix   string        // TRACEGATE_EXPORT_S3_PREFIX (default "tracegate/history")
	ExportDir        string        // TRACEGATE_EXPORT_DIR (enables local dir export when set)
	ExportCursorFile string        // TRACEGATE_EXPORT_CURSOR (cursor file; Redis is used when configured)

	// Logging
	LogLevel  string // TRACEGATE_LOG_LEVEL (default "info")
	LogFormat string // TRACEGATE_LOG_FORMAT ("json" or "console"; default "json")

	ShutdownTimeout time.Duration // TRACEGATE_SHUTDOWN_TIMEOUT (default 30s)
}

func Load() (*Config, error) {
	c := &Config{
		Store:            envOrDefault("TRACEGATE_STORE", StorePostgres),
		DatabaseURL:      os.Getenv("TRACEGATE_DATABASE_URL"),
		GRPCAddr:         envOrDefault("TRACEGATE_GRPC_ADDR", ":9090"),
		HTTPAddr:         envOrDefault("TRACEGATE_HTTP_ADDR", ":8080"),
		StationsFile:     envOrDefault("TRACEGATE_STATIONS", "stations.toml"),
		RedisURL:         os.Getenv("TRACEGATE_REDIS_URL"),
		AdminUser:        envOrDefault("TRACEGATE_ADMIN_USER", "admin"),
		AdminPassword:    os.Getenv("TRACEGATE_ADMIN_PASSWORD"),
		NATSURL:          os.Getenv("TRACEGATE_NATS_URL"),
		MQTTURL:          os.Getenv("TRACEGATE_MQTT_URL"),
		MQTTClientID:     envOrDefault("TRACEGATE_MQTT_CLIENT_ID", "tracegate"),
		MQTTUsername:     os.Getenv("TRACEGATE_MQTT_USERNAME"),
		MQTTPassword:     os.Getenv("TRACEGATE_MQTT_PASSWORD"),
		ExportS3Bucket:   os.Getenv("TRACEGATE_EXPORT_S3_BUCKET"),
		ExportS3Endpoint: os.Getenv("TRACEGATE_EXPORT_S3_ENDPOINT"),
		ExportS3Region:   envOrDefault("TRACEGATE_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Prefix:   envOrDefault("TRACEGATE_EXPORT_S3_PREFIX", "tracegate/history"),
		ExportDir:        os.Getenv("TRACEGATE_EXPORT_DIR"),
		ExportCursorFile: os.Getenv("TRACEGATE_EXPORT_CURSOR"),
		LogLevel:         envOrDefault("TRACEGATE_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("TRACEGATE_LOG_FORMAT", "json"),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("TRACEGATE_DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("TRACEGATE_STORE: unknown store %q", c.Store)
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"TRACEGATE_SESSION_TTL", "8h", &c.SessionTTL},
		{"TRACEGATE_SESSION_RETENTION", "24h", &c.SessionRetention},
		{"TRACEGATE_HEARTBEAT_GRACE", "90s", &c.HeartbeatGrace},
		{"TRACEGATE_EXPORT_INTERVAL", "5m", &c.ExportInterval},
		{"TRACEGATE_SHUTDOWN_TIMEOUT", "30s", &c.ShutdownTimeout},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	if c.SessionTTL == 0 {
		return nil, fmt.Errorf("TRACEGATE_SESSION_TTL: must be positive")
	}

	batch, err := strconv.Atoi(envOrDefault("TRACEGATE_EXPORT_BATCH", "5000"))
	if err != nil || batch <= 0 {
		return nil, fmt.Errorf("TRACEGATE_EXPORT_BATCH: want a positive integer")
	}
	c.ExportBatchSize = batch

	qos, err := strconv.ParseUint(envOrDefault("TRACEGATE_MQTT_QOS", "1"), 10, 8)
	if err != nil || qos > 2 {
		return nil, fmt.Errorf("TRACEGATE_MQTT_QOS: want 0, 1 or 2")
	}
	c.MQTTQoS = byte(qos)

	return c, nil
}

// ExportEnabled reports whether any export destination is configured.
func (c *Config) ExportEnabled() bool {
	return c.ExportInterval > 0 && (c.ExportS3Bucket != "" || c.ExportDir != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
