package config

import (
	"net"
	"strconv"
	"time"
)

// DaemonConfig holds runtime configuration for the Datify daemon.
type DaemonConfig struct {
	Environment        string
	Host               string
	Port               int
	DatabaseURL        string
	JWTSecret          string
	EncryptionKey      string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	DockerHost         string
	DockerNetwork      string
	DockerHostIP       string
	PortRangeStart     int
	PortRangeEnd       int
	MetricsInterval    time.Duration
	ScrapeTimeout      time.Duration
	ReadinessTimeout   time.Duration
	StopGrace          time.Duration
	LogTailDefault     int
	LogTailMax         int
	StreamSessionLimit int
	LogLevel           string
}

// LoadDaemonConfig constructs a DaemonConfig from environment variables.
func LoadDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Environment:        GetString("APP_ENV", "development"),
		Host:               GetString("SERVER_HOST", "0.0.0.0"),
		Port:               GetInt("SERVER_PORT", 8080),
		DatabaseURL:        GetString("DATABASE_URL", "datify.db"),
		JWTSecret:          GetString("JWT_SECRET", "change-me-in-production"),
		EncryptionKey:      GetString("ENCRYPTION_KEY", ""),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 168)) * time.Hour,
		DockerHost:         GetString("DOCKER_HOST", ""),
		DockerNetwork:      GetString("DOCKER_NETWORK", "datify"),
		DockerHostIP:       GetString("DOCKER_HOST_IP", "127.0.0.1"),
		PortRangeStart:     GetInt("PORT_RANGE_START", 30000),
		PortRangeEnd:       GetInt("PORT_RANGE_END", 39999),
		MetricsInterval:    time.Duration(GetInt("METRICS_INTERVAL_SECONDS", 15)) * time.Second,
		ScrapeTimeout:      time.Duration(GetInt("METRICS_SCRAPE_TIMEOUT_SECONDS", 5)) * time.Second,
		ReadinessTimeout:   time.Duration(GetInt("READINESS_TIMEOUT_SECONDS", 60)) * time.Second,
		StopGrace:          time.Duration(GetInt("STOP_GRACE_SECONDS", 30)) * time.Second,
		LogTailDefault:     GetInt("LOG_TAIL_DEFAULT", 200),
		LogTailMax:         GetInt("LOG_TAIL_MAX", 1000),
		StreamSessionLimit: GetInt("STREAM_SESSION_LIMIT", 32),
		LogLevel:           GetString("LOG_LEVEL", "info"),
	}
}

// Addr renders the HTTP bind address.
func (c DaemonConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
