package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Media     MediaConfig
	Engine    EngineConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	R2        R2Config
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
}

type StoreConfig struct {
	Backend string // "memory" or "redis"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PipelineConfig struct {
	Workers       int
	QueueCapacity int
	JobTimeout    time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
}

type MediaConfig struct {
	FFmpegPath     string
	FFprobePath    string
	YtDlpPath      string
	SampleRate     int
	TmpDir         string
	MaxUploadBytes int64
	MaxDuration    time.Duration
	FetchTimeout   time.Duration
}

type EngineConfig struct {
	Kind         string // "auto", "whisper", "remote" or "mock"
	WhisperBin   string
	Model        string
	RemoteURL    string
	RemoteAPIKey string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type RateLimitConfig struct {
	SubmitPerMin int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("ENGINE_REMOTE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.log_format", "LOG_FORMAT")
	_ = viper.BindEnv("store.backend", "STORE_BACKEND")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
	_ = viper.BindEnv("pipeline.queue_capacity", "PIPELINE_QUEUE_CAPACITY")
	_ = viper.BindEnv("pipeline.job_timeout", "PIPELINE_JOB_TIMEOUT")
	_ = viper.BindEnv("pipeline.sweep_interval", "PIPELINE_SWEEP_INTERVAL")
	_ = viper.BindEnv("pipeline.retention", "PIPELINE_RETENTION")
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("media.ytdlp_path", "YTDLP_PATH")
	_ = viper.BindEnv("media.sample_rate", "MEDIA_SAMPLE_RATE")
	_ = viper.BindEnv("media.tmp_dir", "MEDIA_TMP_DIR")
	_ = viper.BindEnv("media.max_upload_bytes", "PIPELINE_MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("media.max_duration", "PIPELINE_MAX_DURATION")
	_ = viper.BindEnv("media.fetch_timeout", "MEDIA_FETCH_TIMEOUT")
	_ = viper.BindEnv("engine.kind", "ENGINE_KIND")
	_ = viper.BindEnv("engine.whisper_bin", "ENGINE_WHISPER_BIN")
	_ = viper.BindEnv("engine.model", "ENGINE_MODEL")
	_ = viper.BindEnv("engine.remote_url", "ENGINE_REMOTE_URL")
	_ = viper.BindEnv("engine.remote_api_key", "ENGINE_REMOTE_API_KEY")
	_ = viper.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.submit_per_min", "RATELIMIT_SUBMIT_PER_MIN")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.log_format", "console")
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("pipeline.workers", runtime.NumCPU())
	viper.SetDefault("pipeline.queue_capacity", 64)
	viper.SetDefault("pipeline.job_timeout", "10m")
	viper.SetDefault("pipeline.sweep_interval", "30s")
	viper.SetDefault("pipeline.retention", "24h")
	viper.SetDefault("media.sample_rate", 16000)
	viper.SetDefault("media.max_upload_bytes", 50*1024*1024)
	viper.SetDefault("media.max_duration", "2h")
	viper.SetDefault("media.fetch_timeout", "5m")
	viper.SetDefault("engine.kind", "auto")
	viper.SetDefault("engine.model", "base")
	viper.SetDefault("ratelimit.submit_per_min", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			LogFormat: viper.GetString("server.log_format"),
		},
		Store: StoreConfig{
			Backend: viper.GetString("store.backend"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Pipeline: PipelineConfig{
			Workers:       viper.GetInt("pipeline.workers"),
			QueueCapacity: viper.GetInt("pipeline.queue_capacity"),
			JobTimeout:    viper.GetDuration("pipeline.job_timeout"),
			SweepInterval: viper.GetDuration("pipeline.sweep_interval"),
			Retention:     viper.GetDuration("pipeline.retention"),
		},
		Media: MediaConfig{
			FFmpegPath:     viper.GetString("media.ffmpeg_path"),
			FFprobePath:    viper.GetString("media.ffprobe_path"),
			YtDlpPath:      viper.GetString("media.ytdlp_path"),
			SampleRate:     viper.GetInt("media.sample_rate"),
			TmpDir:         viper.GetString("media.tmp_dir"),
			MaxUploadBytes: viper.GetInt64("media.max_upload_bytes"),
			MaxDuration:    viper.GetDuration("media.max_duration"),
			FetchTimeout:   viper.GetDuration("media.fetch_timeout"),
		},
		Engine: EngineConfig{
			Kind:         viper.GetString("engine.kind"),
			WhisperBin:   viper.GetString("engine.whisper_bin"),
			Model:        viper.GetString("engine.model"),
			RemoteURL:    viper.GetString("engine.remote_url"),
			RemoteAPIKey: viper.GetString("engine.remote_api_key"),
		},
		Auth: AuthConfig{
			Enabled:   viper.GetBool("auth.enabled"),
			JWTSecret: viper.GetString("auth.jwt_secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMin: viper.GetInt("ratelimit.submit_per_min"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
