// Package config loads smartmodel settings.
//
// Values are resolved in order: defaults, then the YAML file, then the
// environment. Every field can be overridden with SMARTMODEL_<SECTION>_<FIELD>
// (for example SMARTMODEL_MODEL_PROVIDER). GEMINI_API_KEY, OPENAI_API_KEY and
// LOG_LEVEL are honored as well.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nstogner/smartmodel/pkg/model"
)

const EnvPrefix = "SMARTMODEL"

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Process runners.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

type Config struct {
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Model       ModelConfig       `yaml:"model" env:"MODEL"`
	Interpreter InterpreterConfig `yaml:"interpreter" env:"INTERPRETER"`
	Generation  GenerationConfig  `yaml:"generation" env:"GENERATION"`
	Runner      RunnerConfig      `yaml:"runner" env:"RUNNER"`
	Store       StoreConfig       `yaml:"store" env:"STORE"`
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
}

type LogConfig struct {
	// Level is one of TRACE, DEBUG, INFO, WARN or ERROR.
	Level string `yaml:"level" env:"LEVEL"`
	// File receives log output. Empty means stderr.
	File string `yaml:"file" env:"FILE"`
}

type ModelConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	// Generator answers structured-generation requests.
	Generator string `yaml:"generator" env:"GENERATOR"`
	// Planner writes programs for the runner. Defaults to Generator.
	Planner string `yaml:"planner" env:"PLANNER"`
	// Narrator explains execution results. Defaults to Generator.
	Narrator string        `yaml:"narrator" env:"NARRATOR"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type InterpreterConfig struct {
	Python  string `yaml:"python" env:"PYTHON"`
	TempDir string `yaml:"temp_dir" env:"TEMP_DIR"`
	// Runner is "local" or "docker".
	Runner       string        `yaml:"runner" env:"RUNNER"`
	DockerImage  string        `yaml:"docker_image" env:"DOCKER_IMAGE"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

type GenerationConfig struct {
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// ShapesFile holds YAML shape declarations offered to generate requests.
	ShapesFile string `yaml:"shapes_file" env:"SHAPES_FILE"`
}

type RunnerConfig struct {
	MaxRepairs int `yaml:"max_repairs" env:"MAX_REPAIRS"`
}

type StoreConfig struct {
	// Path of the SQLite history database. Empty disables history.
	Path string `yaml:"path" env:"PATH"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "INFO"},
		Model: ModelConfig{
			Provider:  ProviderGemini,
			Generator: "gemini-2.5-flash",
			Timeout:   2 * time.Minute,
		},
		Interpreter: InterpreterConfig{
			Python:       "python3",
			Runner:       RunnerLocal,
			DockerImage:  "python:3.12-slim",
			PollInterval: 200 * time.Millisecond,
		},
		Generation: GenerationConfig{MaxAttempts: 5},
		Runner:     RunnerConfig{MaxRepairs: 2},
		Store:      StoreConfig{Path: "smartmodel.db"},
		Server:     ServerConfig{Addr: ":8080"},
	}
}

// Load reads path (skipped when empty) over the defaults and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, err
	}
	applyWellKnownEnv(cfg)
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyWellKnownEnv(cfg *Config) {
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		cfg.Log.Level = lv
	}
	if cfg.Model.APIKey != "" {
		return
	}
	switch cfg.Model.Provider {
	case ProviderGemini:
		cfg.Model.APIKey = os.Getenv("GEMINI_API_KEY")
	case ProviderOpenAI:
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) fillDefaults() {
	if c.Model.Planner == "" {
		c.Model.Planner = c.Model.Generator
	}
	if c.Model.Narrator == "" {
		c.Model.Narrator = c.Model.Generator
	}
	if c.Interpreter.TempDir == "" {
		c.Interpreter.TempDir = os.TempDir()
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Model.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}
	if c.Model.Generator == "" {
		errs = append(errs, errors.New("model.generator: must be set"))
	}
	switch c.Interpreter.Runner {
	case RunnerLocal, RunnerDocker:
	default:
		errs = append(errs, fmt.Errorf("interpreter.runner: unknown runner %q", c.Interpreter.Runner))
	}
	if c.Interpreter.PollInterval <= 0 {
		errs = append(errs, errors.New("interpreter.poll_interval: must be positive"))
	}
	if c.Generation.MaxAttempts < 0 {
		errs = append(errs, errors.New("generation.max_attempts: must not be negative"))
	}
	if c.Runner.MaxRepairs < 0 {
		errs = append(errs, errors.New("runner.max_repairs: must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level. TRACE is model.LevelTrace.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return model.LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := setField(field, val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, val string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(val)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Logger builds the process logger the way every smartmodel command does:
// a text handler at the configured level, writing to the log file when one
// is set. The returned close function releases the file.
func (c *Config) Logger() (*slog.Logger, func() error, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	out := os.Stderr
	closeFn := func() error { return nil }
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}
