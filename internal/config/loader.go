package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the worker configuration. It starts from [Default], merges the
// YAML file at path when path is non-empty, then applies environment
// variables on top. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Environment variables are not consulted. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays recognised environment variables onto cfg. getenv is
// injected so tests can supply their own environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.Node.ID, getenv("NODE_ID"))
	setString(&cfg.Node.Host, getenv("HOST"))
	setInt(&cfg.Node.Port, getenv("PORT"))
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = LogLevel(v)
	}

	setString(&cfg.Redis.Host, getenv("REDIS_HOST"))
	setInt(&cfg.Redis.Port, getenv("REDIS_PORT"))
	setString(&cfg.Redis.Password, getenv("REDIS_PASSWORD"))
	setInt(&cfg.Redis.DB, getenv("REDIS_DB"))

	setString(&cfg.Database.Host, getenv("DB_HOST"))
	setInt(&cfg.Database.Port, getenv("DB_PORT"))
	setString(&cfg.Database.Name, getenv("DB_NAME"))
	setString(&cfg.Database.User, getenv("DB_USER"))
	setString(&cfg.Database.Password, getenv("DB_PASSWORD"))
	setString(&cfg.Database.SSLMode, getenv("DB_SSL_MODE"))

	setString(&cfg.Whisper.ModelPath, getenv("WHISPER_MODEL_PATH"))
	setString(&cfg.Whisper.ModelSize, getenv("WHISPER_MODEL_SIZE"))
	setString(&cfg.Whisper.ModelDir, getenv("WHISPER_MODEL_DIR"))

	setString(&cfg.Translate.LLMAPIKey, getenv("TRANSLATION_API_KEY"))
	setString(&cfg.Translate.LLMModel, getenv("TRANSLATION_LLM_MODEL"))
	setString(&cfg.Translate.LLMBaseURL, getenv("TRANSLATION_LLM_BASE_URL"))
	setString(&cfg.Translate.GoogleAPIKey, getenv("GOOGLE_TRANSLATE_API_KEY"))
	setString(&cfg.Translate.DeepLAPIKey, getenv("DEEPL_API_KEY"))
	setString(&cfg.Translate.DeepLAPIURL, getenv("DEEPL_API_URL"))
	setString(&cfg.Translate.LibreURL, getenv("LIBRETRANSLATE_URL"))

	setInt(&cfg.Worker.MaxConcurrentTasks, getenv("MAX_CONCURRENT_TASKS"))
	setInt(&cfg.Worker.HeartbeatInterval, getenv("HEARTBEAT_INTERVAL"))
	setInt(&cfg.Worker.TaskTimeout, getenv("TASK_TIMEOUT"))
	setString(&cfg.Worker.ResultDir, getenv("RESULT_DIR"))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Node.ID == "" {
		errs = append(errs, errors.New("node.id is required"))
	}
	if cfg.Node.Port <= 0 || cfg.Node.Port > 65535 {
		errs = append(errs, fmt.Errorf("node.port %d is out of range [1, 65535]", cfg.Node.Port))
	}
	if cfg.Node.LogLevel != "" && !cfg.Node.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("node.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Node.LogLevel))
	}

	if cfg.Redis.Host == "" {
		errs = append(errs, errors.New("redis.host is required"))
	}
	if cfg.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}

	if cfg.Worker.MaxConcurrentTasks <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_concurrent_tasks %d must be positive", cfg.Worker.MaxConcurrentTasks))
	}
	if cfg.Worker.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.heartbeat_interval %d must be positive", cfg.Worker.HeartbeatInterval))
	}
	if cfg.Worker.TaskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker.task_timeout %d must be positive", cfg.Worker.TaskTimeout))
	}
	if cfg.Worker.ResultDir == "" {
		errs = append(errs, errors.New("worker.result_dir is required"))
	}

	return errors.Join(errs...)
}
