package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Drift      DriftConfig      `yaml:"drift" mapstructure:"drift"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the job queue backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ExtractConfig configures the invoice extraction providers.
type ExtractConfig struct {
	// Provider names the default extraction backend.
	Provider     string          `yaml:"provider" mapstructure:"provider"`
	MaxPromptLen int             `yaml:"max_prompt_len" mapstructure:"max_prompt_len"`
	Anthropic    AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI       OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Ollama       OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OllamaConfig holds local Ollama settings. Ollama speaks the OpenAI
// chat API, so only the base URL and model differ.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// DriftConfig configures accuracy drift detection.
type DriftConfig struct {
	WindowSize          int      `yaml:"window_size" mapstructure:"window_size"`
	MinSamples          int      `yaml:"min_samples" mapstructure:"min_samples"`
	AccuracyThreshold   float64  `yaml:"accuracy_threshold" mapstructure:"accuracy_threshold"`
	DropThreshold       float64  `yaml:"drop_threshold" mapstructure:"drop_threshold"`
	VolatilityThreshold float64  `yaml:"volatility_threshold" mapstructure:"volatility_threshold"`
	MonitoredFields     []string `yaml:"monitored_fields" mapstructure:"monitored_fields"`
}

// MonitoringConfig configures alert delivery and the background
// health checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs          int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ArchiveConfig configures S3-compatible document archival.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// DatasetConfig configures gold dataset loading.
type DatasetConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	FetchURL    string `yaml:"fetch_url" mapstructure:"fetch_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WorkerConfig configures the background extraction worker.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	PollSecs    int `yaml:"poll_secs" mapstructure:"poll_secs"`
	JobTTLHours int `yaml:"job_ttl_hours" mapstructure:"job_ttl_hours"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port          int    `yaml:"port" mapstructure:"port"`
	UploadDir     string `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadMB   int    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigin string `yaml:"allowed_origin" mapstructure:"allowed_origin"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the settings a command mode depends on are present
// and sane. Modes: "serve", "worker", "evaluate".
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
			problems = append(problems, "worker.concurrency must be between 1 and 64")
		}
		if c.Drift.AccuracyThreshold < 0 || c.Drift.AccuracyThreshold > 1 {
			problems = append(problems, "drift.accuracy_threshold must be within [0, 1]")
		}
		if c.Drift.DropThreshold < 0 || c.Drift.DropThreshold > 1 {
			problems = append(problems, "drift.drop_threshold must be within [0, 1]")
		}
		if c.Drift.WindowSize < 1 {
			problems = append(problems, "drift.window_size must be > 0")
		}
	}

	switch mode {
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required")
		}
	case "worker":
		checkCommon()
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required")
		}
		if err := c.checkProvider(); err != nil {
			problems = append(problems, err.Error())
		}
	case "evaluate":
		if err := c.checkProvider(); err != nil {
			problems = append(problems, err.Error())
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}

	return nil
}

func (c *Config) checkProvider() error {
	switch c.Extract.Provider {
	case "anthropic":
		if c.Extract.Anthropic.Key == "" {
			return eris.New("extract.anthropic.key is required")
		}
	case "openai":
		if c.Extract.OpenAI.Key == "" {
			return eris.New("extract.openai.key is required")
		}
	case "ollama", "local":
		// No credentials needed.
	default:
		return eris.Errorf("unknown extract.provider %q", c.Extract.Provider)
	}

	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "/tmp/docintel/uploads")
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("extract.provider", "anthropic")
	v.SetDefault("extract.max_prompt_len", 12000)
	v.SetDefault("extract.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extract.anthropic.max_tokens", 1024)
	v.SetDefault("extract.openai.model", "gpt-4o-mini")
	v.SetDefault("extract.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("extract.ollama.model", "llama3.1")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("drift.window_size", 100)
	v.SetDefault("drift.min_samples", 20)
	v.SetDefault("drift.accuracy_threshold", 0.80)
	v.SetDefault("drift.drop_threshold", 0.10)
	v.SetDefault("drift.volatility_threshold", 0.15)
	v.SetDefault("drift.monitored_fields", []string{
		"invoice_number", "invoice_date", "supplier_name", "total_amount",
	})
	v.SetDefault("monitoring.timeout_secs", 10)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("archive.bucket", "docintel-archive")
	v.SetDefault("dataset.dir", "testdata/gold")
	v.SetDefault("dataset.timeout_secs", 60)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_secs", 2)
	v.SetDefault("worker.job_ttl_hours", 24)
	v.SetDefault("worker.max_attempts", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
