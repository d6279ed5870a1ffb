package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreSupabase = "supabase"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Supabase SupabaseConfig
	Geocoder GeocoderConfig
	Auth     AuthConfig

	// ListingStore selects the listing backend: postgres or supabase.
	ListingStore   string
	ScraperBaseURL string
	MigrationsDir  string

	Sync    SyncConfig
	Geocode GeocodeConfig
}

type AppConfig struct {
	AppName     string
	Environment string
	HTTPPort    string
	LogLevel    string

	WSAllowedOrigins []string
	WSMaxClients     int
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

type SupabaseConfig struct {
	URL string
	Key string
}

type GeocoderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	ServiceTokenSecret string
	ServiceTokenTTL    time.Duration
}

// SyncConfig and GeocodeConfig can be overridden from the YAML file named by
// SYNC_CONFIG_FILE.
type SyncConfig struct {
	DeactivationAlertThreshold int           `yaml:"deactivation_alert_threshold"`
	LockTTL                    time.Duration `yaml:"lock_ttl"`
	JobTimeout                 time.Duration `yaml:"job_timeout"`
}

type GeocodeConfig struct {
	MinDelay      time.Duration `yaml:"min_delay"`
	PauseEvery    int           `yaml:"pause_every"`
	PauseDuration time.Duration `yaml:"pause_duration"`
	BatchLimit    int           `yaml:"batch_limit"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type tuningFile struct {
	Sync    *SyncConfig    `yaml:"sync"`
	Geocode *GeocodeConfig `yaml:"geocode"`
}

var (
	errMissingRequiredEnv = errors.New("missing required environment variables")
	errInvalidEnv         = errors.New("invalid environment variables")
)

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}

	var missing []string
	var invalid []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key, def string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		return v
	}
	optInt := func(key string, def int) int {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optMillis := func(key string, def time.Duration) time.Duration {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			invalid = append(invalid, key)
			return def
		}
		return time.Duration(v) * time.Millisecond
	}
	optDuration := func(key string, def time.Duration) time.Duration {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}

	optList := func(key string) []string {
		var out []string
		for _, part := range strings.Split(os.Getenv(key), ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	cfg.App = AppConfig{
		AppName:     req("APP_NAME"),
		Environment: req("APP_ENV"),
		HTTPPort:    opt("HTTP_PORT", "8080"),
		LogLevel:    opt("LOG_LEVEL", "info"),

		WSAllowedOrigins: optList("WS_ALLOWED_ORIGINS"),
		WSMaxClients:     optInt("WS_MAX_CLIENTS", 0),
	}

	cfg.Database = DatabaseConfig{
		DBHost:                opt("DB_HOST", "localhost"),
		DBPort:                opt("DB_PORT", "5432"),
		DBName:                opt("DB_NAME", ""),
		DBUser:                opt("DB_USER", ""),
		DBPassword:            opt("DB_PASSWORD", ""),
		DBSSLMode:             opt("DB_SSL_MODE", "disable"),
		ConnectTimeout:        optDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		PoolMaxConns:          int32(optInt("DB_POOL_MAX_CONNS", 0)),
		PoolMinConns:          int32(optInt("DB_POOL_MIN_CONNS", 0)),
		PoolMaxConnLifetime:   optDuration("DB_POOL_MAX_CONN_LIFETIME", 0),
		PoolMaxConnIdleTime:   optDuration("DB_POOL_MAX_CONN_IDLE_TIME", 0),
		PoolHealthCheckPeriod: optDuration("DB_POOL_HEALTH_CHECK_PERIOD", 0),
	}

	cfg.Redis = RedisConfig{
		Host:     opt("REDIS_HOST", "localhost"),
		Port:     opt("REDIS_PORT", "6379"),
		Password: opt("REDIS_PASSWORD", ""),
	}

	cfg.Supabase = SupabaseConfig{
		URL: opt("SUPABASE_URL", ""),
		Key: opt("SUPABASE_KEY", ""),
	}

	cfg.Geocoder = GeocoderConfig{
		APIKey:  opt("GEOCODER_API_KEY", ""),
		BaseURL: opt("GEOCODER_BASE_URL", "https://maps.googleapis.com"),
		Timeout: optDuration("GEOCODER_TIMEOUT", 10*time.Second),
	}

	cfg.Auth = AuthConfig{
		ServiceTokenSecret: opt("SERVICE_TOKEN_SECRET", ""),
		ServiceTokenTTL:    optDuration("SERVICE_TOKEN_TTL", 24*time.Hour),
	}

	cfg.ListingStore = strings.ToLower(opt("LISTING_STORE", StorePostgres))
	cfg.ScraperBaseURL = opt("SCRAPER_BASE_URL", "")
	cfg.MigrationsDir = opt("MIGRATIONS_DIR", "migrations")

	cfg.Sync = SyncConfig{
		DeactivationAlertThreshold: optInt("SYNC_DEACTIVATION_ALERT_THRESHOLD", 10),
		LockTTL:                    optDuration("SYNC_LOCK_TTL", 10*time.Minute),
		JobTimeout:                 optDuration("SYNC_JOB_TIMEOUT", 30*time.Minute),
	}

	cfg.Geocode = GeocodeConfig{
		MinDelay:      optMillis("GEOCODE_DELAY_MS", 200*time.Millisecond),
		PauseEvery:    optInt("GEOCODE_PAUSE_EVERY", 10),
		PauseDuration: optMillis("GEOCODE_PAUSE_MS", 2*time.Second),
		BatchLimit:    optInt("GEOCODE_BATCH_LIMIT", 500),
		CacheTTL:      optDuration("GEOCODE_CACHE_TTL", 30*24*time.Hour),
	}

	switch cfg.ListingStore {
	case StorePostgres:
	case StoreSupabase:
		if cfg.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if cfg.Supabase.Key == "" {
			missing = append(missing, "SUPABASE_KEY")
		}
	default:
		invalid = append(invalid, "LISTING_STORE")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errMissingRequiredEnv, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errInvalidEnv, strings.Join(invalid, ", "))
	}

	if path := strings.TrimSpace(os.Getenv("SYNC_CONFIG_FILE")); path != "" {
		if err := applyTuningFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func applyTuningFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sync config %s: %w", path, err)
	}
	var tf tuningFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return fmt.Errorf("parse sync config %s: %w", path, err)
	}

	if s := tf.Sync; s != nil {
		if s.DeactivationAlertThreshold > 0 {
			cfg.Sync.DeactivationAlertThreshold = s.DeactivationAlertThreshold
		}
		if s.LockTTL > 0 {
			cfg.Sync.LockTTL = s.LockTTL
		}
		if s.JobTimeout > 0 {
			cfg.Sync.JobTimeout = s.JobTimeout
		}
	}
	if g := tf.Geocode; g != nil {
		if g.MinDelay > 0 {
			cfg.Geocode.MinDelay = g.MinDelay
		}
		if g.PauseEvery > 0 {
			cfg.Geocode.PauseEvery = g.PauseEvery
		}
		if g.PauseDuration > 0 {
			cfg.Geocode.PauseDuration = g.PauseDuration
		}
		if g.BatchLimit > 0 {
			cfg.Geocode.BatchLimit = g.BatchLimit
		}
		if g.CacheTTL > 0 {
			cfg.Geocode.CacheTTL = g.CacheTTL
		}
	}
	return nil
}
