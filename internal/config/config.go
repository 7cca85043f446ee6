// Package config handles configuration loading with layering:
// defaults -> global config -> project config -> explicit file -> env vars -> CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gavinyap/bigseek/internal/retry"
)

// EnvPrefix prefixes the generic BIGSEEK_<SECTION>_<KEY> variables.
const EnvPrefix = "BIGSEEK"

// Config holds all runtime configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Stream     StreamConfig     `yaml:"stream"`
	Chat       ChatConfig       `yaml:"chat"`
	Retry      RetryConfig      `yaml:"retry"`
	DB         DBConfig         `yaml:"db"`
	Log        LogConfig        `yaml:"log"`
}

type TelegramConfig struct {
	Token       string `yaml:"token" validate:"required"`
	AdminUserID int64  `yaml:"admin_user_id"`
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout    int `yaml:"poll_timeout" validate:"gte=0"`
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=1"`
}

type OpenRouterConfig struct {
	APIKey         string        `yaml:"api_key" validate:"required"`
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Model          string        `yaml:"model" validate:"required"`
	ReasoningModel string        `yaml:"reasoning_model" validate:"required"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

type StreamConfig struct {
	MaxMessageLength int           `yaml:"max_message_length" validate:"gte=1,lte=4096"`
	SampleInterval   time.Duration `yaml:"sample_interval" validate:"gt=0"`
}

type ChatConfig struct {
	RateLimitInterval  time.Duration `yaml:"rate_limit_interval" validate:"gte=0"`
	HistorySize        int           `yaml:"history_size" validate:"gte=1"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	PrefetchActiveDays int           `yaml:"prefetch_active_days" validate:"gte=0"`
}

// Policy is one backoff policy.
type Policy struct {
	Attempts int           `yaml:"attempts" validate:"gte=1"`
	Initial  time.Duration `yaml:"initial" validate:"gte=0"`
	Max      time.Duration `yaml:"max" validate:"gtefield=Initial"`
	Jitter   time.Duration `yaml:"jitter" validate:"gte=0"`
}

// Backoff converts the policy into a retry configuration.
func (p Policy) Backoff() retry.Config {
	return retry.Config{
		MaxAttempts:    p.Attempts,
		InitialBackoff: p.Initial,
		MaxBackoff:     p.Max,
		Multiplier:     2,
		Jitter:         p.Jitter,
	}
}

type RetryConfig struct {
	Job            Policy `yaml:"job"`
	Sink           Policy `yaml:"sink"`
	MarkupFailures int    `yaml:"markup_failures" validate:"gte=1"`
}

type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Defaults returns a Config populated with hardcoded default values.
func Defaults() Config {
	return Config{
		Telegram: TelegramConfig{
			PollTimeout:    60,
			MaxConcurrency: 16,
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "deepseek/deepseek-chat",
			ReasoningModel: "deepseek/deepseek-r1",
			ConnectTimeout: 60 * time.Second,
		},
		Stream: StreamConfig{
			MaxMessageLength: 2000,
			SampleInterval:   time.Second,
		},
		Chat: ChatConfig{
			RateLimitInterval:  2 * time.Second,
			HistorySize:        20,
			CleanupInterval:    5 * time.Minute,
			PrefetchActiveDays: 14,
		},
		Retry: RetryConfig{
			Job:            Policy{Attempts: 3, Initial: time.Second, Max: 10 * time.Second, Jitter: time.Second},
			Sink:           Policy{Attempts: 5, Initial: 5 * time.Second, Max: 10 * time.Second, Jitter: time.Second},
			MarkupFailures: 3,
		},
		DB:  DBConfig{Path: "bigseek_bot_data.db"},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// NewViper returns a viper instance wired to the environment. The three
// well-known deployment variables are bound explicitly; every other key
// reads BIGSEEK_<SECTION>_<KEY>.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", "BIG_SEEK_BOT_TOKEN", EnvPrefix+"_TELEGRAM_TOKEN")
	_ = v.BindEnv("telegram.admin_user_id", "BIG_SEEK_BOT_ADMIN_USER_ID", EnvPrefix+"_TELEGRAM_ADMIN_USER_ID")
	_ = v.BindEnv("openrouter.api_key", "OPENROUTER_API_KEY", EnvPrefix+"_OPENROUTER_API_KEY")
	return v
}

// Load reads config from all layers and returns the merged result. It does
// not validate; commands call Validate for the fields they need.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()

	// Layer 2: Global config
	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".bigseek", "config.yaml")
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return nil, fmt.Errorf("global config %s: %w", globalPath, err)
		}
	}

	// Layer 3: Project config
	projectPath := filepath.Join(".bigseek", "config.yaml")
	if err := mergeFromFile(&cfg, projectPath); err != nil {
		return nil, fmt.Errorf("project config %s: %w", projectPath, err)
	}

	if v == nil {
		return &cfg, nil
	}

	// Layer 4: --config
	if path := v.GetString("config"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := mergeFromFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// Layers 5 and 6: environment and bound flags
	applyOverrides(&cfg, v)

	return &cfg, nil
}

// mergeFromFile decodes a YAML config file over cfg. Keys absent from the
// file keep their current value. A missing file is silently skipped.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	merged := *cfg
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	*cfg = merged
	return nil
}

type override struct {
	key   string
	apply func(cfg *Config, v *viper.Viper, key string)
}

func str(field func(*Config) *string) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, k string) { *field(c) = v.GetString(k) }
}

func integer(field func(*Config) *int) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, k string) { *field(c) = v.GetInt(k) }
}

func duration(field func(*Config) *time.Duration) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, k string) { *field(c) = v.GetDuration(k) }
}

var overrides = []override{
	{"telegram.token", str(func(c *Config) *string { return &c.Telegram.Token })},
	{"telegram.admin_user_id", func(c *Config, v *viper.Viper, k string) { c.Telegram.AdminUserID = v.GetInt64(k) }},
	{"telegram.poll_timeout", integer(func(c *Config) *int { return &c.Telegram.PollTimeout })},
	{"telegram.max_concurrency", integer(func(c *Config) *int { return &c.Telegram.MaxConcurrency })},

	{"openrouter.api_key", str(func(c *Config) *string { return &c.OpenRouter.APIKey })},
	{"openrouter.base_url", str(func(c *Config) *string { return &c.OpenRouter.BaseURL })},
	{"openrouter.model", str(func(c *Config) *string { return &c.OpenRouter.Model })},
	{"openrouter.reasoning_model", str(func(c *Config) *string { return &c.OpenRouter.ReasoningModel })},
	{"openrouter.connect_timeout", duration(func(c *Config) *time.Duration { return &c.OpenRouter.ConnectTimeout })},

	{"stream.max_message_length", integer(func(c *Config) *int { return &c.Stream.MaxMessageLength })},
	{"stream.sample_interval", duration(func(c *Config) *time.Duration { return &c.Stream.SampleInterval })},

	{"chat.rate_limit_interval", duration(func(c *Config) *time.Duration { return &c.Chat.RateLimitInterval })},
	{"chat.history_size", integer(func(c *Config) *int { return &c.Chat.HistorySize })},
	{"chat.cleanup_interval", duration(func(c *Config) *time.Duration { return &c.Chat.CleanupInterval })},
	{"chat.prefetch_active_days", integer(func(c *Config) *int { return &c.Chat.PrefetchActiveDays })},

	{"retry.job.attempts", integer(func(c *Config) *int { return &c.Retry.Job.Attempts })},
	{"retry.job.initial", duration(func(c *Config) *time.Duration { return &c.Retry.Job.Initial })},
	{"retry.job.max", duration(func(c *Config) *time.Duration { return &c.Retry.Job.Max })},
	{"retry.job.jitter", duration(func(c *Config) *time.Duration { return &c.Retry.Job.Jitter })},
	{"retry.sink.attempts", integer(func(c *Config) *int { return &c.Retry.Sink.Attempts })},
	{"retry.sink.initial", duration(func(c *Config) *time.Duration { return &c.Retry.Sink.Initial })},
	{"retry.sink.max", duration(func(c *Config) *time.Duration { return &c.Retry.Sink.Max })},
	{"retry.sink.jitter", duration(func(c *Config) *time.Duration { return &c.Retry.Sink.Jitter })},
	{"retry.markup_failures", integer(func(c *Config) *int { return &c.Retry.MarkupFailures })},

	{"db.path", str(func(c *Config) *string { return &c.DB.Path })},

	{"log.level", str(func(c *Config) *string { return &c.Log.Level })},
	{"log.format", str(func(c *Config) *string { return &c.Log.Format })},
}

// Keys lists every configuration key.
func Keys() []string {
	keys := make([]string, len(overrides))
	for i, o := range overrides {
		keys[i] = o.key
	}
	return keys
}

func applyOverrides(cfg *Config, v *viper.Viper) {
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(cfg, v, o.key)
		}
	}
}

var envHints = map[string]string{
	"telegram.token":     "BIG_SEEK_BOT_TOKEN",
	"openrouter.api_key": "OPENROUTER_API_KEY",
}

// Validate checks the whole configuration and reports every invalid field
// by its config key.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fieldError(fe))
	}
	return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
}

func fieldError(fe validator.FieldError) error {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		if env, ok := envHints[key]; ok {
			return fmt.Errorf("%s is required: set %s or add it to ~/.bigseek/config.yaml", key, env)
		}
		return fmt.Errorf("%s is required", key)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a URL, got %q", key, fe.Value())
	default:
		return fmt.Errorf("%s failed %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
}
