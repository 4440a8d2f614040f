package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FirebirdSQL/fblib/pkg/trace"
)

const defaultConfigRelPath = ".fbtrace/config.yaml"

type ParserConfig struct {
	// HasStatementFree mirrors the engine's trace_free_statements setting.
	// When the log carries no FREE_STATEMENT entries the parser stops
	// caching statement texts across events. Defaults to true.
	HasStatementFree *bool `yaml:"has_statement_free"`
	StrictUnknown    bool  `yaml:"strict_unknown"`
	InferRetainedID  bool  `yaml:"infer_retained_id"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Parser ParserConfig `yaml:"parser"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "./fbtrace.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path cannot be empty")
	}
	if err := ensureWritableDir(filepath.Dir(c.Store.Path)); err != nil {
		return fmt.Errorf("store.path dir not writable: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// ParserOptions translates the parser section into trace options.
func (c *Config) ParserOptions() trace.Options {
	opts := trace.DefaultOptions()
	if c.Parser.HasStatementFree != nil {
		opts.HasStatementFree = *c.Parser.HasStatementFree
	}
	opts.StrictUnknown = c.Parser.StrictUnknown
	opts.InferRetainedID = c.Parser.InferRetainedID
	return opts
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setBool(&c.Parser.StrictUnknown, "FBTRACE_PARSER_STRICT_UNKNOWN")
	setBool(&c.Parser.InferRetainedID, "FBTRACE_PARSER_INFER_RETAINED_ID")
	if v, ok := os.LookupEnv("FBTRACE_PARSER_HAS_STATEMENT_FREE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Parser.HasStatementFree = &b
		}
	}
	setString(&c.Store.Path, "FBTRACE_STORE_PATH")
	setString(&c.Server.Host, "FBTRACE_SERVER_HOST")
	setInt(&c.Server.Port, "FBTRACE_SERVER_PORT")
	setString(&c.Log.Level, "FBTRACE_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
