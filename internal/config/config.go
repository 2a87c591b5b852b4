package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Text          TextConfig
	Image         ImageConfig
	Speech        SpeechConfig
	Transcription TranscriptionConfig
	Video         VideoConfig
	R2            R2Config
	Compositor    CompositorConfig
	Registry      RegistryConfig
	Snapshots     SnapshotConfig
	History       HistoryConfig
	Autosave      AutosaveConfig
	Concurrency   ConcurrencyConfig
	Retry         RetryConfig
	Timeouts      TimeoutConfig
	Pricing       PricingConfig
}

type ServerConfig struct {
	Port        string `validate:"required"`
	Env         string
	LogLevel    string `validate:"omitempty,oneof=debug info warn error"`
	LogEncoding string `validate:"omitempty,oneof=json console"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	GeneratePerMin int `validate:"gte=1"`
	ExportPerHour  int `validate:"gte=1"`
}

// TextConfig points at an OpenAI-compatible chat completion endpoint
type TextConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	// JSONSchema sends schemas as response_format json_schema instead of
	// embedding them in the system prompt
	JSONSchema bool
}

type ImageConfig struct {
	Provider string `validate:"omitempty,oneof=openai http mock"`
	APIKey   string
	BaseURL  string
	Model    string
	// ServiceURL is an HTTP image service that accepts reference images
	ServiceURL string
}

type SpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

type TranscriptionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type VideoConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type CompositorConfig struct {
	Mode       string `validate:"oneof=http queue"`
	ServiceURL string
	Timeout    int // seconds
}

type RegistryConfig struct {
	URL string
}

type SnapshotConfig struct {
	Backend     string `validate:"oneof=file redis postgres"`
	Dir         string
	PostgresDSN string
	MaxAuto     int   `validate:"gte=1"`
	MaxBytes    int64 `validate:"gte=1"`
}

type HistoryConfig struct {
	Capacity          int `validate:"gte=1"`
	KeepRedoOnRestore bool
}

type AutosaveConfig struct {
	Debounce    time.Duration
	MinInterval time.Duration
}

type ConcurrencyConfig struct {
	Image  int `validate:"gte=1"`
	Video  int `validate:"gte=1"`
	Speech int `validate:"gte=1"`
	Text   int `validate:"gte=1"`
}

type RetryConfig struct {
	BaseDelay     time.Duration
	Factor        float64 `validate:"gte=1"`
	Jitter        float64 `validate:"gte=0,lt=1"`
	MaxAttempts   int     `validate:"gte=1"`
	MaxElapsed    time.Duration
	MaxRetryAfter time.Duration
}

type TimeoutConfig struct {
	Text   time.Duration
	Image  time.Duration
	Speech time.Duration
	Video  time.Duration
}

// PricingConfig holds unit prices used for the lock cost estimate
type PricingConfig struct {
	Currency             string
	TextPerMillionTokens float64
	ImagePerUnit         float64
	SpeechPerMillionChar float64
	VideoPerClip         float64
	ShotsPerScene        int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("TEXT_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("SPEECH_API_KEY")
	readSecret("TRANSCRIPTION_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("SNAPSHOT_POSTGRES_DSN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	bindEnv(v)
	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_encoding", "LOG_ENCODING")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("text.api_key", "TEXT_API_KEY")
	_ = v.BindEnv("text.base_url", "TEXT_BASE_URL")
	_ = v.BindEnv("text.model", "TEXT_MODEL")
	_ = v.BindEnv("text.vision_model", "TEXT_VISION_MODEL")
	_ = v.BindEnv("text.json_schema", "TEXT_JSON_SCHEMA")
	_ = v.BindEnv("image.provider", "IMAGE_PROVIDER")
	_ = v.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = v.BindEnv("image.base_url", "IMAGE_BASE_URL")
	_ = v.BindEnv("image.model", "IMAGE_MODEL")
	_ = v.BindEnv("image.service_url", "IMAGE_SERVICE_URL")
	_ = v.BindEnv("speech.api_key", "SPEECH_API_KEY")
	_ = v.BindEnv("speech.base_url", "SPEECH_BASE_URL")
	_ = v.BindEnv("speech.model", "SPEECH_MODEL")
	_ = v.BindEnv("speech.voice", "SPEECH_VOICE")
	_ = v.BindEnv("transcription.api_key", "TRANSCRIPTION_API_KEY")
	_ = v.BindEnv("transcription.base_url", "TRANSCRIPTION_BASE_URL")
	_ = v.BindEnv("transcription.model", "TRANSCRIPTION_MODEL")
	_ = v.BindEnv("video.api_key", "VIDEO_API_KEY")
	_ = v.BindEnv("video.base_url", "VIDEO_BASE_URL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("compositor.mode", "COMPOSITOR_MODE")
	_ = v.BindEnv("compositor.service_url", "COMPOSITOR_SERVICE_URL")
	_ = v.BindEnv("compositor.timeout", "COMPOSITOR_TIMEOUT")
	_ = v.BindEnv("registry.url", "PROJECT_REGISTRY_URL")
	_ = v.BindEnv("snapshots.backend", "SNAPSHOT_BACKEND")
	_ = v.BindEnv("snapshots.dir", "SNAPSHOT_DIR")
	_ = v.BindEnv("snapshots.postgres_dsn", "SNAPSHOT_POSTGRES_DSN")
	_ = v.BindEnv("snapshots.max_bytes", "SNAPSHOT_MAX_BYTES")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.generate_per_min", 30)
	v.SetDefault("ratelimit.export_per_hour", 20)

	// Groq serves the OpenAI-compatible chat API by default
	v.SetDefault("text.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("text.model", "llama-3.3-70b-versatile")
	v.SetDefault("text.vision_model", "llama-3.2-90b-vision-preview")

	v.SetDefault("image.provider", "openai")
	v.SetDefault("image.base_url", "https://api.openai.com/v1")
	v.SetDefault("image.model", "dall-e-3")
	v.SetDefault("speech.base_url", "https://api.openai.com/v1")
	v.SetDefault("speech.model", "tts-1")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("transcription.base_url", "https://api.openai.com/v1")
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("video.poll_interval", 5*time.Second)

	v.SetDefault("compositor.mode", "http")
	v.SetDefault("compositor.service_url", "http://localhost:8084")
	v.SetDefault("compositor.timeout", 600)

	v.SetDefault("snapshots.backend", "file")
	v.SetDefault("snapshots.dir", "./data/snapshots")
	v.SetDefault("snapshots.max_auto", 20)
	v.SetDefault("snapshots.max_bytes", 8<<20)

	v.SetDefault("history.capacity", 50)
	v.SetDefault("history.keep_redo_on_restore", false)

	v.SetDefault("autosave.debounce", 2*time.Second)
	v.SetDefault("autosave.min_interval", 20*time.Second)

	v.SetDefault("concurrency.image", 3)
	v.SetDefault("concurrency.video", 2)
	v.SetDefault("concurrency.speech", 4)
	v.SetDefault("concurrency.text", 4)

	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.max_elapsed", 15*time.Second)
	v.SetDefault("retry.max_retry_after", 10*time.Second)

	v.SetDefault("timeouts.text", 60*time.Second)
	v.SetDefault("timeouts.image", 120*time.Second)
	v.SetDefault("timeouts.speech", 90*time.Second)
	v.SetDefault("timeouts.video", 600*time.Second)

	v.SetDefault("pricing.currency", "USD")
	v.SetDefault("pricing.text_per_million_tokens", 0.79)
	v.SetDefault("pricing.image_per_unit", 0.04)
	v.SetDefault("pricing.speech_per_million_chars", 15.0)
	v.SetDefault("pricing.video_per_clip", 0.25)
	v.SetDefault("pricing.shots_per_scene", 3)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			LogEncoding: v.GetString("server.log_encoding"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerMin: v.GetInt("ratelimit.generate_per_min"),
			ExportPerHour:  v.GetInt("ratelimit.export_per_hour"),
		},
		Text: TextConfig{
			APIKey:      v.GetString("text.api_key"),
			BaseURL:     v.GetString("text.base_url"),
			Model:       v.GetString("text.model"),
			VisionModel: v.GetString("text.vision_model"),
			JSONSchema:  v.GetBool("text.json_schema"),
		},
		Image: ImageConfig{
			Provider:   v.GetString("image.provider"),
			APIKey:     v.GetString("image.api_key"),
			BaseURL:    v.GetString("image.base_url"),
			Model:      v.GetString("image.model"),
			ServiceURL: v.GetString("image.service_url"),
		},
		Speech: SpeechConfig{
			APIKey:  v.GetString("speech.api_key"),
			BaseURL: v.GetString("speech.base_url"),
			Model:   v.GetString("speech.model"),
			Voice:   v.GetString("speech.voice"),
		},
		Transcription: TranscriptionConfig{
			APIKey:  v.GetString("transcription.api_key"),
			BaseURL: v.GetString("transcription.base_url"),
			Model:   v.GetString("transcription.model"),
		},
		Video: VideoConfig{
			APIKey:       v.GetString("video.api_key"),
			BaseURL:      v.GetString("video.base_url"),
			PollInterval: v.GetDuration("video.poll_interval"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Compositor: CompositorConfig{
			Mode:       v.GetString("compositor.mode"),
			ServiceURL: v.GetString("compositor.service_url"),
			Timeout:    v.GetInt("compositor.timeout"),
		},
		Registry: RegistryConfig{
			URL: v.GetString("registry.url"),
		},
		Snapshots: SnapshotConfig{
			Backend:     v.GetString("snapshots.backend"),
			Dir:         v.GetString("snapshots.dir"),
			PostgresDSN: v.GetString("snapshots.postgres_dsn"),
			MaxAuto:     v.GetInt("snapshots.max_auto"),
			MaxBytes:    v.GetInt64("snapshots.max_bytes"),
		},
		History: HistoryConfig{
			Capacity:          v.GetInt("history.capacity"),
			KeepRedoOnRestore: v.GetBool("history.keep_redo_on_restore"),
		},
		Autosave: AutosaveConfig{
			Debounce:    v.GetDuration("autosave.debounce"),
			MinInterval: v.GetDuration("autosave.min_interval"),
		},
		Concurrency: ConcurrencyConfig{
			Image:  v.GetInt("concurrency.image"),
			Video:  v.GetInt("concurrency.video"),
			Speech: v.GetInt("concurrency.speech"),
			Text:   v.GetInt("concurrency.text"),
		},
		Retry: RetryConfig{
			BaseDelay:     v.GetDuration("retry.base_delay"),
			Factor:        v.GetFloat64("retry.factor"),
			Jitter:        v.GetFloat64("retry.jitter"),
			MaxAttempts:   v.GetInt("retry.max_attempts"),
			MaxElapsed:    v.GetDuration("retry.max_elapsed"),
			MaxRetryAfter: v.GetDuration("retry.max_retry_after"),
		},
		Timeouts: TimeoutConfig{
			Text:   v.GetDuration("timeouts.text"),
			Image:  v.GetDuration("timeouts.image"),
			Speech: v.GetDuration("timeouts.speech"),
			Video:  v.GetDuration("timeouts.video"),
		},
		Pricing: PricingConfig{
			Currency:             v.GetString("pricing.currency"),
			TextPerMillionTokens: v.GetFloat64("pricing.text_per_million_tokens"),
			ImagePerUnit:         v.GetFloat64("pricing.image_per_unit"),
			SpeechPerMillionChar: v.GetFloat64("pricing.speech_per_million_chars"),
			VideoPerClip:         v.GetFloat64("pricing.video_per_clip"),
			ShotsPerScene:        v.GetInt("pricing.shots_per_scene"),
		},
	}
}

// Default returns the configuration with every default applied and no
// environment or file overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Snapshots.Backend == "postgres" && c.Snapshots.PostgresDSN == "" {
		return fmt.Errorf("invalid configuration: snapshots.postgres_dsn is required for the postgres backend")
	}
	return nil
}
