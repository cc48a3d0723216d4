package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

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

// Worker modes
const (
	WorkerModeAsynq = "asynq"
	WorkerModeLocal = "local"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Media       MediaConfig
	Transcriber TranscriberConfig
	Worker      WorkerConfig
	Upload      UploadConfig
	RateLimit   RateLimitConfig
	S3          S3Config
	Watcher     WatcherConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	BaseURL  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	DBPath     string
	UploadsDir string
	StaticDir  string
	DocsDir    string
}

type MediaConfig struct {
	FFmpegPath   string
	FrameDelayMs int
	FrameQuality int
}

type TranscriberConfig struct {
	Command  string
	Args     []string
	Model    string
	Language string
}

type WorkerConfig struct {
	Mode            string
	Concurrency     int
	MaxSubprocesses int
}

type UploadConfig struct {
	MaxSizeMB    int
	AllowedTypes []string
}

type RateLimitConfig struct {
	UploadPerHour    int
	ScreenshotPerMin int
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

type WatcherConfig struct {
	Enabled bool
	Dir     string
}

// Enabled reports whether the object storage mirror is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.base_url", "BASE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("storage.db_path", "DB_PATH")
	_ = viper.BindEnv("storage.uploads_dir", "UPLOADS_DIR")
	_ = viper.BindEnv("storage.static_dir", "STATIC_DIR")
	_ = viper.BindEnv("storage.docs_dir", "DOCS_DIR")
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.frame_delay_ms", "FRAME_DELAY_MS")
	_ = viper.BindEnv("media.frame_quality", "FRAME_QUALITY")
	_ = viper.BindEnv("transcriber.command", "TRANSCRIBER_COMMAND")
	_ = viper.BindEnv("transcriber.args", "TRANSCRIBER_ARGS")
	_ = viper.BindEnv("transcriber.model", "TRANSCRIBER_MODEL")
	_ = viper.BindEnv("transcriber.language", "TRANSCRIBER_LANGUAGE")
	_ = viper.BindEnv("worker.mode", "WORKER_MODE")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.max_subprocesses", "WORKER_MAX_SUBPROCESSES")
	_ = viper.BindEnv("upload.max_size_mb", "UPLOAD_MAX_SIZE_MB")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.screenshot_per_min", "RATELIMIT_SCREENSHOT_PER_MIN")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("s3.region", "S3_REGION")
	_ = viper.BindEnv("s3.bucket", "S3_BUCKET")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.public_url", "S3_PUBLIC_URL")
	_ = viper.BindEnv("watcher.enabled", "WATCHER_ENABLED")
	_ = viper.BindEnv("watcher.dir", "WATCHER_DIR")

	setDefaults()

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
			BaseURL:  viper.GetString("server.base_url"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			DBPath:     viper.GetString("storage.db_path"),
			UploadsDir: viper.GetString("storage.uploads_dir"),
			StaticDir:  viper.GetString("storage.static_dir"),
			DocsDir:    viper.GetString("storage.docs_dir"),
		},
		Media: MediaConfig{
			FFmpegPath:   viper.GetString("media.ffmpeg_path"),
			FrameDelayMs: viper.GetInt("media.frame_delay_ms"),
			FrameQuality: viper.GetInt("media.frame_quality"),
		},
		Transcriber: TranscriberConfig{
			Command:  viper.GetString("transcriber.command"),
			Args:     viper.GetStringSlice("transcriber.args"),
			Model:    viper.GetString("transcriber.model"),
			Language: viper.GetString("transcriber.language"),
		},
		Worker: WorkerConfig{
			Mode:            strings.ToLower(viper.GetString("worker.mode")),
			Concurrency:     viper.GetInt("worker.concurrency"),
			MaxSubprocesses: viper.GetInt("worker.max_subprocesses"),
		},
		Upload: UploadConfig{
			MaxSizeMB:    viper.GetInt("upload.max_size_mb"),
			AllowedTypes: viper.GetStringSlice("upload.allowed_types"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:    viper.GetInt("ratelimit.upload_per_hour"),
			ScreenshotPerMin: viper.GetInt("ratelimit.screenshot_per_min"),
		},
		S3: S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			PublicURL:       viper.GetString("s3.public_url"),
		},
		Watcher: WatcherConfig{
			Enabled: viper.GetBool("watcher.enabled"),
			Dir:     viper.GetString("watcher.dir"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("storage.db_path", "data/stepdocs.sqlite")
	viper.SetDefault("storage.uploads_dir", "uploads")
	viper.SetDefault("storage.static_dir", "static")
	viper.SetDefault("storage.docs_dir", "docs/generated")

	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.frame_delay_ms", 200)
	viper.SetDefault("media.frame_quality", 2)

	viper.SetDefault("transcriber.command", "python3")
	viper.SetDefault("transcriber.args", []string{"scripts/transcribe.py"})
	viper.SetDefault("transcriber.model", "base")
	viper.SetDefault("transcriber.language", "auto")

	viper.SetDefault("worker.mode", WorkerModeAsynq)
	viper.SetDefault("worker.concurrency", runtime.NumCPU())
	viper.SetDefault("worker.max_subprocesses", runtime.NumCPU())

	viper.SetDefault("upload.max_size_mb", 500)
	viper.SetDefault("upload.allowed_types", []string{
		"video/mp4", "video/quicktime", "video/webm", "video/x-matroska", "video/x-msvideo", "video/mpeg",
	})
	viper.SetDefault("ratelimit.upload_per_hour", 30)
	viper.SetDefault("ratelimit.screenshot_per_min", 60)

	viper.SetDefault("s3.region", "auto")
	viper.SetDefault("watcher.enabled", false)
	viper.SetDefault("watcher.dir", "data/inbox")
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Media.FFmpegPath == "" {
		return fmt.Errorf("media.ffmpeg_path is required")
	}
	if c.Transcriber.Command == "" {
		return fmt.Errorf("transcriber.command is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Worker.Mode != WorkerModeAsynq && c.Worker.Mode != WorkerModeLocal {
		return fmt.Errorf("worker.mode must be %q or %q, got %q", WorkerModeAsynq, WorkerModeLocal, c.Worker.Mode)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Watcher.Enabled && c.Watcher.Dir == "" {
		return fmt.Errorf("watcher.dir is required when the watcher is enabled")
	}

	if c.Worker.MaxSubprocesses <= 0 {
		c.Worker.MaxSubprocesses = c.Worker.Concurrency
	}
	if c.Upload.MaxSizeMB <= 0 {
		c.Upload.MaxSizeMB = 500
	}
	if c.Storage.UploadsDir == "" {
		c.Storage.UploadsDir = "uploads"
	}
	if c.Storage.StaticDir == "" {
		c.Storage.StaticDir = "static"
	}
	if c.Storage.DocsDir == "" {
		c.Storage.DocsDir = "docs/generated"
	}
	return nil
}
