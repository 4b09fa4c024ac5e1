package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Provider backends resolvable from configuration.
const (
	BackendMock        = "mock"
	BackendHuggingFace = "huggingface"
	BackendMeshy       = "meshy"
	BackendOpenAI      = "openai"
)

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStoreRedis    = "redis"
	JobStorePostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	Port            string        `envconfig:"PORT" default:"8080"`
	HTTPReadTimeout time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	// Proxy downloads and the HF vision call can be slow.
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"120s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	MeshProvider  string `envconfig:"MESH_PROVIDER" default:"mock"`
	ImageProvider string `envconfig:"IMAGE_PROVIDER" default:"mock"`

	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIVisionModel string `envconfig:"OPENAI_VISION_MODEL" default:"gpt-4o"`
	OpenAITextModel   string `envconfig:"OPENAI_TEXT_MODEL" default:"gpt-4o-mini"`
	OpenAIImageModel  string `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`

	HFAPIToken    string        `envconfig:"HF_API_TOKEN"`
	HFEndpoint    string        `envconfig:"HF_ENDPOINT"`
	HFImageModel  string        `envconfig:"HF_IMAGE_MODEL"`
	HFBaseURL     string        `envconfig:"HF_BASE_URL" default:"https://router.huggingface.co/hf-inference/models"`
	HFMeshTimeout time.Duration `envconfig:"HF_MESH_TIMEOUT" default:"5m"`

	MeshyAPIKey  string `envconfig:"MESHY_API_KEY"`
	MeshyBaseURL string `envconfig:"MESHY_BASE_URL" default:"https://api.meshy.ai"`

	MockMeshDuration time.Duration `envconfig:"MOCK_MESH_DURATION" default:"2s"`

	JobStore         string        `envconfig:"JOB_STORE" default:"memory"`
	RedisURL         string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	DBMaxConns       int           `envconfig:"DB_MAX_CONNS" default:"4"`
	DBConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
	JobTTL           time.Duration `envconfig:"JOB_TTL" default:"0s"`
	// SweepInterval paces cmd/worker's purge of expired Postgres jobs.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	StoragePath string `envconfig:"STORAGE_PATH" default:"./storage"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RateLimitPerMin    int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	ProxyAllowedHosts  string `envconfig:"PROXY_ALLOWED_HOSTS"`
	ProxyAllowPrivate  bool   `envconfig:"PROXY_ALLOW_PRIVATE" default:"false"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.MeshProvider = strings.ToLower(strings.TrimSpace(cfg.MeshProvider))
	cfg.ImageProvider = strings.ToLower(strings.TrimSpace(cfg.ImageProvider))
	cfg.JobStore = strings.ToLower(strings.TrimSpace(cfg.JobStore))
	// A variable that is set but empty bypasses envconfig defaults.
	if cfg.MeshProvider == "" {
		cfg.MeshProvider = BackendMock
	}
	if cfg.ImageProvider == "" {
		cfg.ImageProvider = BackendMock
	}
	if cfg.JobStore == "" {
		cfg.JobStore = JobStoreMemory
	}

	switch cfg.MeshProvider {
	case BackendMock, BackendHuggingFace, BackendMeshy:
	default:
		return nil, fmt.Errorf("unknown provider %q for MESH_PROVIDER", cfg.MeshProvider)
	}
	switch cfg.ImageProvider {
	case BackendMock, BackendHuggingFace, BackendOpenAI:
	default:
		return nil, fmt.Errorf("unknown provider %q for IMAGE_PROVIDER", cfg.ImageProvider)
	}
	switch cfg.JobStore {
	case JobStoreMemory, JobStoreRedis:
	case JobStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when JOB_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown job store %q for JOB_STORE", cfg.JobStore)
	}

	if cfg.DBConnectTimeout <= 0 {
		cfg.DBConnectTimeout = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 30
	}

	return &cfg, nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into a slice.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// ProxyHosts returns the proxy host allow-list; empty means unrestricted.
func (c *Config) ProxyHosts() []string {
	hosts := splitList(c.ProxyAllowedHosts)
	for i, h := range hosts {
		hosts[i] = strings.ToLower(h)
	}
	return hosts
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
