package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Every field has a default so the converter works with no .env at all;
// MySQL, Redis and MinIO are only used when their host/endpoint is set.
type Config struct {
	FFmpegPath      string
	FFprobePath     string
	HLSSegmentTime  int
	OverwritePolicy string // ask, skip, overwrite, fail
	PoolSize        int
	Transcode       bool // force libx264/aac instead of the HLS muxer defaults

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPrefix    string

	HTTPAddr    string
	JWTSecret   string
	CORSOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
	WatchSettle int      // seconds a new file's size must stay unchanged before conversion

	BatchRetentionMinutes int // how long finished batches stay queryable in memory
}

// Default listen addresses. Without a JWT secret the API only listens on
// loopback unless HTTP_ADDR says otherwise.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultLocalHTTPAddr = "127.0.0.1:8080"
)

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() does not override variables already present in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() *Config {
	jwtSecret := os.Getenv("API_JWT_SECRET")
	httpAddr := DefaultHTTPAddr
	if jwtSecret == "" {
		httpAddr = DefaultLocalHTTPAddr
	}

	return &Config{
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getEnv("FFPROBE_PATH", ""), // empty: derived from FFmpegPath
		HLSSegmentTime:  getEnvInt("HLS_SEGMENT_TIME", 3),
		OverwritePolicy: getEnv("OVERWRITE_POLICY", "ask"),
		PoolSize:        getEnvInt("POOL_SIZE", 2),
		Transcode:       getEnvBool("TRANSCODE", false),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 50),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 28),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "m3u8conv"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "hls"),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPrefix:    getEnv("MINIO_PREFIX", "streams"),

		HTTPAddr:    getEnv("HTTP_ADDR", httpAddr),
		JWTSecret:   jwtSecret,
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		WatchSettle: getEnvInt("WATCH_SETTLE_SECONDS", 2),

		BatchRetentionMinutes: getEnvInt("BATCH_RETENTION_MINUTES", 60),
	}
}

// DBEnabled reports whether conversion history should be written to MySQL.
func (c *Config) DBEnabled() bool { return c.DBHost != "" }

// RedisEnabled reports whether batch progress should be mirrored to Redis.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// MinioEnabled reports whether finished output can be published to MinIO.
func (c *Config) MinioEnabled() bool { return c.MinioEndpoint != "" }
