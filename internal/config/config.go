// Package config provides the configuration schema, loader, and validation
// for the giggle translation worker.
package config

import "fmt"

// LogLevel controls log verbosity for the worker.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the worker. It is typically
// assembled by [Load]: an optional YAML file first, then environment
// variables, which always win.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Translate TranslateConfig `yaml:"translate"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// NodeConfig identifies this worker in the fleet.
type NodeConfig struct {
	// ID is the node identity; it must be unique across the fleet because it
	// keys the node record, task queue, and control queue in the registry.
	ID string `yaml:"id"`

	// Host and Port form the address advertised in the node record. The
	// worker also serves /metrics, /healthz, and /readyz there.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RedisConfig holds the registry connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings for the task table.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string for pgx.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// WhisperConfig selects the speech model loaded at process start.
type WhisperConfig struct {
	// ModelPath is the path to a ggml whisper.cpp model file.
	ModelPath string `yaml:"model_path"`

	// ModelSize names the model capacity (e.g., "large-v3"). Used when
	// ModelPath is empty to locate "ggml-{size}.bin" under ModelDir.
	ModelSize string `yaml:"model_size"`

	// ModelDir is the directory searched when resolving ModelSize.
	ModelDir string `yaml:"model_dir"`
}

// TranslateConfig enables translation providers. A provider joins the
// fallback chain only when its key (or URL, for LibreTranslate) is set; the
// literal fallback is always present.
type TranslateConfig struct {
	// LLMAPIKey enables the LLM-based translator (first in the chain).
	LLMAPIKey  string `yaml:"llm_api_key"`
	LLMModel   string `yaml:"llm_model"`
	LLMBaseURL string `yaml:"llm_base_url"`

	// GoogleAPIKey enables Google Cloud Translation v2.
	GoogleAPIKey string `yaml:"google_api_key"`

	// DeepLAPIKey enables DeepL v2. DeepLAPIURL selects the free or paid
	// endpoint.
	DeepLAPIKey string `yaml:"deepl_api_key"`
	DeepLAPIURL string `yaml:"deepl_api_url"`

	// LibreURL is the LibreTranslate endpoint.
	LibreURL string `yaml:"libre_url"`
}

// WorkerConfig tunes the task engine.
type WorkerConfig struct {
	// MaxConcurrentTasks bounds the number of in-flight task handlers. The
	// operator sets this with the shared accelerator in mind.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// HeartbeatInterval is the seconds between heartbeats. The node record
	// TTL is three times this value.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// TaskTimeout is the graceful-shutdown grace period in seconds.
	TaskTimeout int `yaml:"task_timeout"`

	// ResultDir is the local directory packed result blobs are written to.
	ResultDir string `yaml:"result_dir"`
}

// Default returns a Config populated with the built-in defaults. Callers
// normally go through [Load] instead.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:       "whisper-node-1",
			Host:     "localhost",
			Port:     8001,
			LogLevel: LogInfo,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "giggle_translation",
			User: "postgres",
		},
		Whisper: WhisperConfig{
			ModelSize: "large-v3",
			ModelDir:  "models",
		},
		Translate: TranslateConfig{
			DeepLAPIURL: "https://api-free.deepl.com",
			LibreURL:    "https://libretranslate.de/translate",
		},
		Worker: WorkerConfig{
			MaxConcurrentTasks: 3,
			HeartbeatInterval:  30,
			TaskTimeout:        1800,
			ResultDir:          "/tmp/translation_results",
		},
	}
}
