// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/clip-worker/internal/fault"
)

// DotEnvFile is the optional file loaded before the environment is read.
const DotEnvFile = ".env"

// Static errors for configuration validation.
var (
	// ErrQueueURLRequired is returned when SQS_QUEUE_URL is not set.
	ErrQueueURLRequired = errors.New("config: SQS_QUEUE_URL is required")
	// ErrDatabaseURLRequired is returned when DATABASE_URL is not set.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required")
	// ErrInvalidValue is returned when a setting is outside its allowed range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the worker.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Queue settings
	SQSQueueURL            string `env:"SQS_QUEUE_URL, required" json:"sqs_queue_url"`
	SQSMaxMessages         int    `env:"SQS_MAX_MESSAGES, default=1" json:"sqs_max_messages" validate:"min=1,max=10"`
	SQSWaitTimeSec         int    `env:"SQS_WAIT_TIME_SEC, default=0" json:"sqs_wait_time_sec" validate:"min=0,max=20"`
	SQSMaxReceiveCount     int    `env:"SQS_MAX_RECEIVE_COUNT, default=5" json:"sqs_max_receive_count" validate:"min=1"`
	SQSVisibilityExtendSec int    `env:"SQS_VISIBILITY_EXTEND_SEC, default=0" json:"sqs_visibility_extend_sec" validate:"min=0,max=43200"`

	// Storage settings. An empty bucket selects the local artifact store.
	S3Bucket    string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	ArtifactDir string `env:"ARTIFACT_DIR, default=/tmp/clip-artifacts" json:"artifact_dir"`

	// AWS settings shared by SQS and S3
	AWSRegion          string `env:"AWS_REGION, default=us-east-1" json:"aws_region"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	AWSEndpointURL     string `env:"AWS_ENDPOINT_URL" json:"aws_endpoint_url,omitempty" validate:"omitempty,url"`

	// Database settings
	DatabaseURL     string `env:"DATABASE_URL, required" json:"-"` // May carry a password
	DBRunMigrations bool   `env:"DB_RUN_MIGRATIONS, default=true" json:"db_run_migrations"`

	// Media settings
	VideoMaxDuration  int    `env:"VIDEO_MAX_DURATION, default=600" json:"video_max_duration" validate:"min=1"`
	VideoTempDir      string `env:"VIDEO_TEMP_DIR, default=/tmp/video-clips" json:"video_temp_dir" validate:"required"`
	VideoOutputFormat string `env:"VIDEO_OUTPUT_FORMAT, default=mp4" json:"video_output_format" validate:"required,alphanum"`
	YTDLPPath         string `env:"YTDLP_PATH, default=yt-dlp" json:"ytdlp_path"`
	FFmpegPath        string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath       string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Worker settings
	WorkerConcurrency        int `env:"WORKER_CONCURRENCY, default=2" json:"worker_concurrency" validate:"min=1"`
	WorkerPollIntervalMs     int `env:"WORKER_POLL_INTERVAL_MS, default=5000" json:"worker_poll_interval_ms" validate:"min=1"`
	WorkerShutdownTimeoutSec int `env:"WORKER_SHUTDOWN_TIMEOUT_SEC, default=60" json:"worker_shutdown_timeout_sec" validate:"min=1"`

	// Cleanup settings
	CleanupIntervalMin     int `env:"CLEANUP_INTERVAL_MIN, default=60" json:"cleanup_interval_min" validate:"min=1"`
	CleanupBatchSize       int `env:"CLEANUP_BATCH_SIZE, default=100" json:"cleanup_batch_size" validate:"min=1"`
	TempCleanupIntervalMin int `env:"TEMP_CLEANUP_INTERVAL_MIN, default=360" json:"temp_cleanup_interval_min" validate:"min=1"`
	TempMaxAgeHours        int `env:"TEMP_MAX_AGE_HOURS, default=24" json:"temp_max_age_hours" validate:"min=1"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=json text JSON TEXT"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`                                       // "debug", "info", "warn", "error"
}

// S3Enabled returns true if an S3 bucket is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// Load reads the optional .env file and then the environment.
// Missing required variables are reported as configuration faults.
func Load() (*Config, error) {
	return LoadFile(DotEnvFile)
}

// LoadFile is Load with an explicit dotenv path. Variables already present
// in the environment win over the file, and a missing file is ignored.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Configuration(fmt.Sprintf("Failed to read %s: %v", path, err), err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "SQS_QUEUE_URL") {
			return nil, fault.Configuration("SQS_QUEUE_URL environment variable is required", ErrQueueURLRequired)
		}
		if strings.Contains(err.Error(), "DATABASE_URL") {
			return nil, fault.Configuration("DATABASE_URL environment variable is required", ErrDatabaseURLRequired)
		}
		return nil, fault.Configuration(fmt.Sprintf("config: %v", err), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	if c.SQSQueueURL == "" {
		return fault.Configuration("SQS_QUEUE_URL environment variable is required", ErrQueueURLRequired)
	}
	if c.DatabaseURL == "" {
		return fault.Configuration("DATABASE_URL environment variable is required", ErrDatabaseURLRequired)
	}

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fault.Configuration(
				fmt.Sprintf("Invalid configuration: %s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value()),
				fmt.Errorf("%w: %s", ErrInvalidValue, fe.Field()),
			)
		}
		return fault.Configuration(fmt.Sprintf("Invalid configuration: %v", err), err)
	}
	return nil
}

// newValidator reports fields by their environment variable name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		return name
	})
	return v
}

// PollInterval returns the pause between queue polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the drain bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.WorkerShutdownTimeoutSec) * time.Second
}

// VisibilityExtension returns the heartbeat extension, zero when disabled.
func (c *Config) VisibilityExtension() time.Duration {
	return time.Duration(c.SQSVisibilityExtendSec) * time.Second
}

// CleanupInterval returns the expired clip reclamation period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMin) * time.Minute
}

// TempCleanupInterval returns the scratch sweep period.
func (c *Config) TempCleanupInterval() time.Duration {
	return time.Duration(c.TempCleanupIntervalMin) * time.Minute
}

// TempMaxAge returns the age after which a scratch directory is stale.
func (c *Config) TempMaxAge() time.Duration {
	return time.Duration(c.TempMaxAgeHours) * time.Hour
}

// AWSConfig builds the SDK configuration shared by the SQS and S3 clients.
// Static credentials are used when both keys are set, the default chain
// otherwise. AWS_ENDPOINT_URL overrides the service endpoints.
func (c *Config) AWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.AWSRegion),
	}
	if c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWSAccessKeyID, c.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fault.Configuration(fmt.Sprintf("Failed to load AWS config: %v", err), err)
	}
	if c.AWSEndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.AWSEndpointURL)
	}
	return awsCfg, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, SQSQueueURL: %s, SQSMaxMessages: %d, SQSWaitTimeSec: %d, SQSMaxReceiveCount: %d, "+
			"S3Bucket: %s, ArtifactDir: %s, AWSRegion: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, AWSEndpointURL: %s, "+
			"DatabaseURL: %s, VideoMaxDuration: %d, VideoTempDir: %s, VideoOutputFormat: %s, "+
			"WorkerConcurrency: %d, WorkerPollIntervalMs: %d, WorkerShutdownTimeoutSec: %d, "+
			"CleanupIntervalMin: %d, CleanupBatchSize: %d, TempCleanupIntervalMin: %d, TempMaxAgeHours: %d, "+
			"LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.SQSQueueURL,
		c.SQSMaxMessages,
		c.SQSWaitTimeSec,
		c.SQSMaxReceiveCount,
		c.S3Bucket,
		c.ArtifactDir,
		c.AWSRegion,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.AWSEndpointURL,
		mask(c.DatabaseURL),
		c.VideoMaxDuration,
		c.VideoTempDir,
		c.VideoOutputFormat,
		c.WorkerConcurrency,
		c.WorkerPollIntervalMs,
		c.WorkerShutdownTimeoutSec,
		c.CleanupIntervalMin,
		c.CleanupBatchSize,
		c.TempCleanupIntervalMin,
		c.TempMaxAgeHours,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
