package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration for the screening gateway.
// Numeric pipeline calibration lives in Calibration, not here; this is
// the deployment surface: ports, queue sizes, stage timing, storage.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only for logging the
	// WebSocket endpoint the capture collaborator should dial.
	// Optional; if unset, logs ws://localhost:PORT/ws/screening.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Pipeline cadence
	VoiceAggregationEvery int `envconfig:"VOICE_AGGREGATION_EVERY" default:"3"` // emit a voice sample every Nth spectrum
	FrameQueueSize        int `envconfig:"FRAME_QUEUE_SIZE" default:"64"`       // buffered landmark frames before drops
	AudioQueueSize        int `envconfig:"AUDIO_QUEUE_SIZE" default:"32"`       // buffered spectra before drops

	// Stage timing. Stages 1 and 3 are advanced by the collaborator;
	// these are the timeout fallbacks. Stage 2 is the fixed temporal
	// window.
	Stage1MaxSeconds   int `envconfig:"STAGE1_MAX_SECONDS" default:"20"`
	Stage2Seconds      int `envconfig:"STAGE2_SECONDS" default:"30"`
	Stage3MaxSeconds   int `envconfig:"STAGE3_MAX_SECONDS" default:"45"`
	Stage2SampleMillis int `envconfig:"STAGE2_SAMPLE_MILLIS" default:"333"` // temporal sampling tick

	// Assessment store
	DataDir       string `envconfig:"DATA_DIR" default:"./data"`
	StoreInMemory bool   `envconfig:"STORE_IN_MEMORY" default:"false"` // Badger in-memory mode (tests, replay)

	// Store write resilience
	RetryMaxAttempts    int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`      // store write attempts
	RetryInitialBackoff int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // initial backoff in milliseconds

	// Calibration profile: optional YAML file overriding the built-in
	// numeric calibration (thresholds, weight tables, scales).
	CalibrationFile string `envconfig:"CALIBRATION_FILE" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.VoiceAggregationEvery < 1 {
		return fmt.Errorf("VOICE_AGGREGATION_EVERY must be >= 1, got %d", c.VoiceAggregationEvery)
	}
	if c.FrameQueueSize < 1 || c.AudioQueueSize < 1 {
		return fmt.Errorf("queue sizes must be >= 1, got frames=%d audio=%d", c.FrameQueueSize, c.AudioQueueSize)
	}
	if c.Stage1MaxSeconds < 1 || c.Stage2Seconds < 1 || c.Stage3MaxSeconds < 1 {
		return fmt.Errorf("stage durations must be >= 1s, got %d/%d/%d",
			c.Stage1MaxSeconds, c.Stage2Seconds, c.Stage3MaxSeconds)
	}
	if c.Stage2SampleMillis < 10 {
		return fmt.Errorf("STAGE2_SAMPLE_MILLIS must be >= 10, got %d", c.Stage2SampleMillis)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// Stage1Timeout is the fallback deadline for the guided-speech stage.
func (c *Config) Stage1Timeout() time.Duration {
	return time.Duration(c.Stage1MaxSeconds) * time.Second
}

// Stage2Duration is the fixed temporal-window length.
func (c *Config) Stage2Duration() time.Duration {
	return time.Duration(c.Stage2Seconds) * time.Second
}

// Stage3Timeout is the fallback deadline for the motor stage.
func (c *Config) Stage3Timeout() time.Duration {
	return time.Duration(c.Stage3MaxSeconds) * time.Second
}

// Stage2SampleInterval is the temporal sampling tick period.
func (c *Config) Stage2SampleInterval() time.Duration {
	return time.Duration(c.Stage2SampleMillis) * time.Millisecond
}

// RetryBackoff is the initial store write backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}
