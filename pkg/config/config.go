// Package config loads the monitor configuration from the environment,
// with optional .env file support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/errors"
)

// Config is the root configuration tree.
type Config struct {
	Logging   LoggingConfig
	HTTP      HTTPConfig
	Device    DeviceConfig
	Signal    SignalConfig
	Confusion ConfusionConfig
	Monitor   MonitorConfig
	Advisory  AdvisoryConfig
	Messaging MessagingConfig
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string
	Format     string // "json" or "text"
	OutputFile string
}

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port          int
	ReadTimeout   time.Duration
	EnableMetrics bool
	MetricsPath   string
}

// DeviceConfig selects and configures the EEG data source.
type DeviceConfig struct {
	// Source is "simulated" or "emotiv".
	Source     string
	SampleRate int

	// Profile selects the simulated signal profile: "default", "calm"
	// or "confused".
	Profile string

	// Emotiv Cortex settings, used when Source is "emotiv".
	EmotivURL          string
	EmotivClientID     string
	EmotivClientSecret string
}

// SignalConfig holds the conditioning parameters.
type SignalConfig struct {
	HighpassFreq       float64
	LowpassFreq        float64
	NotchFreq          float64
	NotchQ             float64
	AmplitudeThreshold float64
	GradientThreshold  float64
	SmoothingWindow    int
}

// ConfusionConfig holds the scoring parameters.
type ConfusionConfig struct {
	WindowSize int
	Threshold  float64
}

// MonitorConfig holds the sampling loop parameters.
type MonitorConfig struct {
	Interval         time.Duration
	ReconnectBackoff time.Duration
	AdvisoryTimeout  time.Duration
	MaxInflight      int
}

// AdvisoryConfig holds the advisory pipeline settings.
type AdvisoryConfig struct {
	Enabled  bool
	Provider string // "openai" or "mock"

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64
	OpenAITimeout     time.Duration

	// Static screen context used when no capture integration is wired.
	Subject string
	Content string
}

// MessagingConfig holds the record sink settings. AMQP is disabled when
// the URL is empty.
type MessagingConfig struct {
	AMQPUrl       string
	AMQPQueueName string
}

// Load reads configuration from the environment, loading a .env file
// first when one is found.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom, _ = filepath.Abs(envFile)
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputFile: getEnv("LOG_OUTPUT_FILE", ""),
		},
		HTTP: HTTPConfig{
			Port:          getEnvInt("HTTP_PORT", 8765),
			ReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			EnableMetrics: getEnvBool("METRICS_ENABLED", true),
			MetricsPath:   getEnv("METRICS_PATH", "/metrics"),
		},
		Device: DeviceConfig{
			Source:             getEnv("DEVICE_SOURCE", "simulated"),
			SampleRate:         getEnvInt("DEVICE_SAMPLE_RATE", 128),
			Profile:            getEnv("DEVICE_PROFILE", "default"),
			EmotivURL:          getEnv("EMOTIV_URL", "wss://localhost:6868"),
			EmotivClientID:     getEnv("EMOTIV_CLIENT_ID", ""),
			EmotivClientSecret: getEnv("EMOTIV_CLIENT_SECRET", ""),
		},
		Signal: SignalConfig{
			HighpassFreq:       getEnvFloat("SIGNAL_HIGHPASS_FREQ", 1.0),
			LowpassFreq:        getEnvFloat("SIGNAL_LOWPASS_FREQ", 50.0),
			NotchFreq:          getEnvFloat("SIGNAL_NOTCH_FREQ", 60.0),
			NotchQ:             getEnvFloat("SIGNAL_NOTCH_Q", 30.0),
			AmplitudeThreshold: getEnvFloat("SIGNAL_AMPLITUDE_THRESHOLD", 200.0),
			GradientThreshold:  getEnvFloat("SIGNAL_GRADIENT_THRESHOLD", 50.0),
			SmoothingWindow:    getEnvInt("SIGNAL_SMOOTHING_WINDOW", 5),
		},
		Confusion: ConfusionConfig{
			WindowSize: getEnvInt("CONFUSION_WINDOW_SIZE", 50),
			Threshold:  getEnvFloat("CONFUSION_THRESHOLD", 0.7),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvDuration("MONITOR_INTERVAL", 100*time.Millisecond),
			ReconnectBackoff: getEnvDuration("MONITOR_RECONNECT_BACKOFF", time.Second),
			AdvisoryTimeout:  getEnvDuration("MONITOR_ADVISORY_TIMEOUT", 30*time.Second),
			MaxInflight:      getEnvInt("MONITOR_ADVISORY_MAX_INFLIGHT", 1),
		},
		Advisory: AdvisoryConfig{
			Enabled:           getEnvBool("ADVISORY_ENABLED", true),
			Provider:          getEnv("ADVISORY_PROVIDER", "mock"),
			OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIMaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 500),
			OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0.7),
			OpenAITimeout:     getEnvDuration("OPENAI_TIMEOUT", 20*time.Second),
			Subject:           getEnv("ADVISORY_SUBJECT", "general"),
			Content:           getEnv("ADVISORY_CONTENT", ""),
		},
		Messaging: MessagingConfig{
			AMQPUrl:       getEnv("AMQP_URL", ""),
			AMQPQueueName: getEnv("AMQP_QUEUE_NAME", "bci_monitor_records"),
		},
	}

	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// validateConfig checks and clamps configuration values.
func validateConfig(logger *logrus.Logger, config *Config) error {
	switch config.Device.Source {
	case "simulated", "emotiv":
	default:
		return errors.NewInvalidInput(fmt.Sprintf("unknown device source: %s", config.Device.Source))
	}

	if config.Device.Source == "emotiv" && (config.Device.EmotivClientID == "" || config.Device.EmotivClientSecret == "") {
		return errors.NewInvalidInput("EMOTIV_CLIENT_ID and EMOTIV_CLIENT_SECRET are required for the emotiv source")
	}

	if config.Device.SampleRate <= 0 {
		logger.WithField("sample_rate", config.Device.SampleRate).Warn("Invalid sample rate, using 128")
		config.Device.SampleRate = 128
	}

	nyquist := float64(config.Device.SampleRate) / 2
	if config.Signal.LowpassFreq >= nyquist {
		logger.WithFields(logrus.Fields{
			"lowpass": config.Signal.LowpassFreq,
			"nyquist": nyquist,
		}).Warn("Lowpass frequency at or above Nyquist, clamping")
		config.Signal.LowpassFreq = nyquist * 0.95
	}
	if config.Signal.HighpassFreq <= 0 || config.Signal.HighpassFreq >= config.Signal.LowpassFreq {
		return errors.NewInvalidInput("highpass frequency must be positive and below the lowpass frequency")
	}

	if config.Confusion.Threshold < 0 || config.Confusion.Threshold > 1 {
		logger.WithField("threshold", config.Confusion.Threshold).Warn("Confusion threshold out of range, using 0.7")
		config.Confusion.Threshold = 0.7
	}
	if config.Confusion.WindowSize <= 0 {
		config.Confusion.WindowSize = 50
	}

	if config.Monitor.Interval < 10*time.Millisecond {
		logger.WithField("interval", config.Monitor.Interval).Warn("Monitor interval too small, using 100ms")
		config.Monitor.Interval = 100 * time.Millisecond
	}

	switch config.Advisory.Provider {
	case "openai", "mock":
	default:
		return errors.NewInvalidInput(fmt.Sprintf("unknown advisory provider: %s", config.Advisory.Provider))
	}
	if config.Advisory.Provider == "openai" && config.Advisory.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, falling back to mock advisory provider")
		config.Advisory.Provider = "mock"
	}

	return nil
}

// ApplyLogging configures the logger from the loaded configuration.
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
