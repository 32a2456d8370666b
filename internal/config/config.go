package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	appName          = "earnings-agent"
	configFileName   = "config.yaml"
	promptFileName   = "SYSTEM_PROMPT.md"
	maxConfigFileLen = 1 << 20
)

const (
	ProviderOpenAI = "openai"
	ProviderDummy  = "dummy"
)

// DefaultFirstMessage greets the user when the REPL starts.
const DefaultFirstMessage = "Hi! Ask me about freelancer earnings: income by region, experience, platform, crypto payments and more."

// Config holds every setting of the assistant. Values come from the
// environment and are then overridden by the YAML file, if any. The env tag
// names the variable and is used in validation errors.
type Config struct {
	DataPath string `yaml:"data_path" env:"EARNINGS_DATA_PATH" validate:"required"`
	// DBPath enables the SQLite event log and history store. Empty keeps history in memory.
	DBPath string `yaml:"db_path" env:"EARNINGS_DB_PATH"`

	Provider             string `yaml:"provider" env:"EARNINGS_PROVIDER" validate:"oneof=openai dummy"`
	OpenAIAPIKey         string `yaml:"-" env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	OpenAIModel          string `yaml:"openai_model" env:"OPENAI_MODEL" validate:"required"`
	OpenAITimeoutSeconds int    `yaml:"openai_timeout_seconds" env:"OPENAI_TIMEOUT_SECONDS" validate:"gte=1"`
	DummyScript          string `yaml:"dummy_script" env:"EARNINGS_DUMMY_SCRIPT"`

	SystemPrompt string  `yaml:"system_prompt" env:"EARNINGS_SYSTEM_PROMPT"`
	FirstMessage string  `yaml:"first_message" env:"EARNINGS_FIRST_MESSAGE"`
	Temperature  float64 `yaml:"temperature" env:"EARNINGS_TEMPERATURE" validate:"gte=0,lte=2"`

	MaxBatchMethods    int  `yaml:"max_batch_methods" env:"EARNINGS_MAX_BATCH_METHODS" validate:"gte=1"`
	BatchParallel      bool `yaml:"batch_parallel" env:"EARNINGS_BATCH_PARALLEL"`
	MaxHistoryPairs    int  `yaml:"max_history_pairs" env:"EARNINGS_MAX_HISTORY_PAIRS" validate:"gte=0"`
	Dedupe             bool `yaml:"dedupe" env:"EARNINGS_DEDUPE"`
	MaxHumanTokens     int  `yaml:"max_human_tokens" env:"EARNINGS_MAX_HUMAN_TOKENS" validate:"gte=0"`
	MaxTurns           int  `yaml:"max_turns" env:"EARNINGS_MAX_TURNS" validate:"gte=1"`
	MaxWallTimeSeconds int  `yaml:"max_wall_time_seconds" env:"EARNINGS_MAX_WALL_TIME_SECONDS" validate:"gte=1"`
	MaxRetries         int  `yaml:"max_retries" env:"EARNINGS_MAX_RETRIES" validate:"gte=0"`
	RetryBaseSeconds   int  `yaml:"retry_base_seconds" env:"EARNINGS_RETRY_BASE_SECONDS" validate:"gte=0"`
	ToolMaxOutputBytes int  `yaml:"tool_max_output_bytes" env:"EARNINGS_TOOL_MAX_OUTPUT_BYTES" validate:"gte=0"`

	CircuitThreshold       int `yaml:"circuit_threshold" env:"EARNINGS_CIRCUIT_THRESHOLD" validate:"gte=1"`
	CircuitCooldownSeconds int `yaml:"circuit_cooldown_seconds" env:"EARNINGS_CIRCUIT_COOLDOWN_SECONDS" validate:"gte=1"`

	LogLevel string `yaml:"log_level" env:"EARNINGS_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogDir   string `yaml:"log_dir" env:"EARNINGS_LOG_DIR"`
	LogJSON  bool   `yaml:"log_json" env:"EARNINGS_LOG_JSON"`

	// ConfigDir holds the default config file and the system prompt file.
	ConfigDir        string `yaml:"-"`
	ConfigFile       string `yaml:"-"`
	SystemPromptFile string `yaml:"-"`
}

// Load reads the environment, then overlays the YAML file at path. An empty
// path falls back to config.yaml in the config directory when it exists.
// Provider credentials are checked later by Validate.
func Load(path string) (Config, error) {
	dir, explicit, err := resolveConfigDir()
	if err != nil {
		return Config{}, err
	}
	if explicit {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, fmt.Errorf("create config dir %s: %w", dir, err)
		}
	}

	cfg := fromEnv()
	cfg.ConfigDir = dir
	cfg.SystemPromptFile = filepath.Join(dir, promptFileName)

	if path == "" {
		candidate := filepath.Join(dir, configFileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		if data, readErr := os.ReadFile(cfg.SystemPromptFile); readErr == nil {
			cfg.SystemPrompt = strings.TrimSpace(string(data))
		}
	}

	if err := cfg.ValidateFields(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() Config {
	return Config{
		DataPath:               envOrDefault("EARNINGS_DATA_PATH", "data/freelancer_earnings_bd.csv"),
		DBPath:                 os.Getenv("EARNINGS_DB_PATH"),
		Provider:               envOrDefault("EARNINGS_PROVIDER", ProviderOpenAI),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:          envOrDefault("OPENAI_BASE_URL", "https://api.groq.com/openai/v1"),
		OpenAIModel:            envOrDefault("OPENAI_MODEL", "llama3-70b-8192"),
		OpenAITimeoutSeconds:   envIntOrDefault("OPENAI_TIMEOUT_SECONDS", 60),
		DummyScript:            envOrDefault("EARNINGS_DUMMY_SCRIPT", "ok"),
		SystemPrompt:           os.Getenv("EARNINGS_SYSTEM_PROMPT"),
		FirstMessage:           envOrDefault("EARNINGS_FIRST_MESSAGE", DefaultFirstMessage),
		Temperature:            envFloatOrDefault("EARNINGS_TEMPERATURE", 0.1),
		MaxBatchMethods:        envIntOrDefault("EARNINGS_MAX_BATCH_METHODS", 15),
		BatchParallel:          envBoolOrDefault("EARNINGS_BATCH_PARALLEL", false),
		MaxHistoryPairs:        envIntOrDefault("EARNINGS_MAX_HISTORY_PAIRS", 3),
		Dedupe:                 envBoolOrDefault("EARNINGS_DEDUPE", false),
		MaxHumanTokens:         envIntOrDefault("EARNINGS_MAX_HUMAN_TOKENS", 1000),
		MaxTurns:               envIntOrDefault("EARNINGS_MAX_TURNS", 8),
		MaxWallTimeSeconds:     envIntOrDefault("EARNINGS_MAX_WALL_TIME_SECONDS", 120),
		MaxRetries:             envIntOrDefault("EARNINGS_MAX_RETRIES", 3),
		RetryBaseSeconds:       envIntOrDefault("EARNINGS_RETRY_BASE_SECONDS", 2),
		ToolMaxOutputBytes:     envIntOrDefault("EARNINGS_TOOL_MAX_OUTPUT_BYTES", 51200),
		CircuitThreshold:       envIntOrDefault("EARNINGS_CIRCUIT_THRESHOLD", 3),
		CircuitCooldownSeconds: envIntOrDefault("EARNINGS_CIRCUIT_COOLDOWN_SECONDS", 30),
		LogLevel:               strings.ToLower(envOrDefault("EARNINGS_LOG_LEVEL", "info")),
		LogDir:                 os.Getenv("EARNINGS_LOG_DIR"),
		LogJSON:                envBoolOrDefault("EARNINGS_LOG_JSON", false),
	}
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if info.Size() > maxConfigFileLen {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileLen)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks field constraints and the credentials the model provider needs.
func (c Config) Validate() error {
	if err := c.ValidateFields(); err != nil {
		return err
	}
	if c.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required in environment when EARNINGS_PROVIDER=openai")
	}
	return nil
}

// ValidateFields checks field constraints only. Commands that never call the
// model use it instead of Validate.
func (c Config) ValidateFields() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return fmt.Errorf("invalid %s=%v: must satisfy %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param())
			}
			return fmt.Errorf("invalid %s=%v: must satisfy %s", fe.Field(), fe.Value(), fe.Tag())
		}
		return err
	}
	return nil
}

// resolveConfigDir returns the config directory and whether it was set
// explicitly through EARNINGS_CONFIG_DIR.
func resolveConfigDir() (string, bool, error) {
	if dir := strings.TrimSpace(os.Getenv("EARNINGS_CONFIG_DIR")); dir != "" {
		return filepath.Clean(dir), true, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appName), false, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(home, ".config", appName), false, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
