package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with CONFIG_PATH.
var ConfigPath = "config.yaml"

func init() {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		ConfigPath = v
	}
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Object storage. storageBackend is "minio" (default) or "memory".
	StorageBackend string `yaml:"storageBackend"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioRegion    string `yaml:"minioRegion"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	PublicBaseURL  string `yaml:"publicBaseURL"`

	// Identity provider.
	JWKSURL             string   `yaml:"jwksURL"`
	JWTIssuer           string   `yaml:"jwtIssuer"`
	JWTAudience         string   `yaml:"jwtAudience"`
	JWTLeeway           string   `yaml:"jwtLeeway"`
	AdminGroup          string   `yaml:"adminGroup"`
	AdminEmails         []string `yaml:"adminEmails"`
	CognitoRegion       string   `yaml:"cognitoRegion"`
	CognitoEndpoint     string   `yaml:"cognitoEndpoint"`
	CognitoClientID     string   `yaml:"cognitoClientID"`
	CognitoClientSecret string   `yaml:"cognitoClientSecret"`

	// Redis backs rate limits, appointment locks and the event stream.
	// All three fall back to in-process implementations when redisAddr is empty.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LockTTL       string `yaml:"lockTTL"`

	AuthRateLimitPerMinute     int `yaml:"authRateLimitPerMinute"`
	FeedbackRateLimitPerMinute int `yaml:"feedbackRateLimitPerMinute"`
	PredictRateLimitPerMinute  int `yaml:"predictRateLimitPerMinute"`

	// Price estimator process.
	EstimatorCommand       string `yaml:"estimatorCommand"`
	EstimatorScript        string `yaml:"estimatorScript"`
	EstimatorDataPath      string `yaml:"estimatorDataPath"`
	EstimatorWorkDir       string `yaml:"estimatorWorkDir"`
	EstimatorTimeout       string `yaml:"estimatorTimeout"`
	EstimatorMaxConcurrent int    `yaml:"estimatorMaxConcurrent"`

	// Events. eventsBackend is "redis", "amqp" or "none".
	EventsBackend string `yaml:"eventsBackend"`
	EventsStream  string `yaml:"eventsStream"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`

	CORSOrigin        string   `yaml:"corsOrigin"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCIDRs"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_REGION"); v != "" {
		cfg.MinioRegion = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitCSV(v)
	}
	if v := os.Getenv("COGNITO_REGION"); v != "" {
		cfg.CognitoRegion = v
	}
	if v := os.Getenv("COGNITO_CLIENT_ID"); v != "" {
		cfg.CognitoClientID = v
	}
	if v := os.Getenv("COGNITO_CLIENT_SECRET"); v != "" {
		cfg.CognitoClientSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ESTIMATOR_COMMAND"); v != "" {
		cfg.EstimatorCommand = v
	}
	if v := os.Getenv("ESTIMATOR_SCRIPT"); v != "" {
		cfg.EstimatorScript = v
	}
	if v := os.Getenv("ESTIMATOR_DATA_PATH"); v != "" {
		cfg.EstimatorDataPath = v
	}
	if v := os.Getenv("ESTIMATOR_TIMEOUT"); v != "" {
		cfg.EstimatorTimeout = v
	}
	if v := os.Getenv("EVENTS_BACKEND"); v != "" {
		cfg.EventsBackend = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.AuthRateLimitPerMinute, "AUTH_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.FeedbackRateLimitPerMinute, "FEEDBACK_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.PredictRateLimitPerMinute, "PREDICT_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.EstimatorMaxConcurrent, "ESTIMATOR_MAX_CONCURRENT")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "minio"
	}
	cfg.EventsBackend = strings.ToLower(strings.TrimSpace(cfg.EventsBackend))
	if cfg.EventsBackend == "" {
		cfg.EventsBackend = "none"
	}
	if cfg.JWKSURL == "" && cfg.CognitoRegion != "" && cfg.JWTIssuer != "" {
		cfg.JWKSURL = strings.TrimRight(cfg.JWTIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = cfg.CognitoClientID
	}
	if cfg.EstimatorCommand == "" {
		cfg.EstimatorCommand = "python3"
	}
	if cfg.AuthRateLimitPerMinute <= 0 {
		cfg.AuthRateLimitPerMinute = 10
	}
	if cfg.FeedbackRateLimitPerMinute <= 0 {
		cfg.FeedbackRateLimitPerMinute = 5
	}
	if cfg.PredictRateLimitPerMinute <= 0 {
		cfg.PredictRateLimitPerMinute = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.StorageBackend {
	case "memory":
	case "minio":
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required (set in config.yaml)")
		}
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required (set in config.yaml)")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required (set in config.yaml)")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required (set in config.yaml)")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or JWKS_URL)")
	}
	if cfg.JWTIssuer == "" {
		return errors.New("config: jwtIssuer is required (set in config.yaml or JWT_ISSUER)")
	}
	if cfg.JWTAudience == "" {
		return errors.New("config: jwtAudience or cognitoClientID is required")
	}
	if cfg.EstimatorScript == "" {
		return errors.New("config: estimatorScript is required (set in config.yaml or ESTIMATOR_SCRIPT)")
	}
	switch cfg.EventsBackend {
	case "none":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: eventsBackend redis requires redisAddr")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: eventsBackend amqp requires amqpURL")
		}
	default:
		return fmt.Errorf("config: unknown eventsBackend %q", cfg.EventsBackend)
	}
	for name, raw := range map[string]string{
		"jwtLeeway":        cfg.JWTLeeway,
		"lockTTL":          cfg.LockTTL,
		"estimatorTimeout": cfg.EstimatorTimeout,
	} {
		if _, err := ParseDuration(raw, 0); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses a Go duration string, returning fallback when raw is empty.
func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
