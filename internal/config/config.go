// Package config carga la configuración del daemon desde YAML, .env y
// variables de entorno, en ese orden de precedencia creciente.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Variables de entorno reconocidas
const (
	EnvAPIToken = "SMART_CACHE_API_TOKEN"
	EnvAPIURL   = "SMART_CACHE_API_URL"
	EnvDataDir  = "SMART_CACHE_DATA_DIR"
	EnvLogLevel = "SMART_CACHE_LOG_LEVEL"
)

// Config es la configuración completa
type Config struct {
	DataDir    string `yaml:"data_dir"`
	SocketPath string `yaml:"socket_path"`
	LogLevel   string `yaml:"log_level"`
	LogPretty  bool   `yaml:"log_pretty"`

	Storage  StorageConfig  `yaml:"storage"`
	Transfer TransferConfig `yaml:"transfer"`
	Signer   SignerConfig   `yaml:"signer"`
	Media    MediaConfig    `yaml:"media"`
}

type StorageConfig struct {
	Backend    string      `yaml:"backend"` // sqlite | redis | memory
	QuotaBytes int64       `yaml:"quota_bytes"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type TransferConfig struct {
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	ReadBuffer         int           `yaml:"read_buffer"`
	RateLimit          int64         `yaml:"rate_limit"` // bytes/s
	UserAgent          string        `yaml:"user_agent"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ProxyURL           string        `yaml:"proxy_url"`
}

type SignerConfig struct {
	Mode     string         `yaml:"mode"` // api | s3 | template
	API      APIConfig      `yaml:"api"`
	S3       S3Config       `yaml:"s3"`
	Template TemplateConfig `yaml:"template"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	Suffix          string        `yaml:"suffix"`
	Endpoint        string        `yaml:"endpoint"`
	Profile         string        `yaml:"profile"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Expires         time.Duration `yaml:"expires"`
}

type TemplateConfig struct {
	URL string `yaml:"url"`
}

type MediaConfig struct {
	Listen string `yaml:"listen"` // vacío deshabilita el servidor
}

// Default retorna la configuración por defecto
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir:    filepath.Join(home, ".local", "share", "smart-cache"),
		SocketPath: defaultSocketPath(),
		LogLevel:   "info",
		LogPretty:  true,
		Storage: StorageConfig{
			Backend: "sqlite",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "smart-cache",
			},
		},
		Transfer: TransferConfig{
			CheckpointInterval: 2 * time.Second,
			ReadBuffer:         32 * 1024,
			UserAgent:          "smart-cache",
			IdleTimeout:        90 * time.Second,
		},
		Signer: SignerConfig{
			Mode: "api",
			S3: S3Config{
				Expires: time.Hour,
			},
		},
		Media: MediaConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	return filepath.Join(runtimeDir, "smart-cache.sock")
}

// DefaultPath retorna $XDG_CONFIG_HOME/smart-cache/config.yaml
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "smart-cache", "config.yaml")
}

// Load lee el archivo (opcional), carga .env del directorio actual y del
// directorio del archivo, y aplica overrides de entorno
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Sin archivo: valores por defecto
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// godotenv nunca pisa variables ya definidas
	for _, envFile := range []string{".env", filepath.Join(filepath.Dir(path), ".env")} {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.SocketPath = expandHome(cfg.SocketPath)

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Signer.API.Token = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Signer.API.BaseURL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// Validate verifica enumeraciones, intervalos y los campos de cada modo
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" && c.Storage.Backend == "sqlite" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}

	switch c.Storage.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.QuotaBytes < 0 {
		errs = append(errs, errors.New("storage.quota_bytes must not be negative"))
	}

	if c.Transfer.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("transfer.checkpoint_interval must be positive"))
	}
	if c.Transfer.ReadBuffer <= 0 {
		errs = append(errs, errors.New("transfer.read_buffer must be positive"))
	}
	if c.Transfer.RateLimit < 0 {
		errs = append(errs, errors.New("transfer.rate_limit must not be negative"))
	}
	if c.Transfer.ProxyURL != "" {
		if u, err := url.Parse(c.Transfer.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("transfer.proxy_url: invalid url %q", c.Transfer.ProxyURL))
		}
	}

	switch c.Signer.Mode {
	case "api":
		if c.Signer.API.BaseURL == "" {
			errs = append(errs, fmt.Errorf("signer.api.base_url is required (or %s)", EnvAPIURL))
		}
	case "s3":
		if c.Signer.S3.Bucket == "" {
			errs = append(errs, errors.New("signer.s3.bucket is required"))
		}
	case "template":
		if !strings.Contains(c.Signer.Template.URL, "{id}") {
			errs = append(errs, errors.New("signer.template.url must contain {id}"))
		}
	default:
		errs = append(errs, fmt.Errorf("signer.mode: unknown mode %q", c.Signer.Mode))
	}

	return errors.Join(errs...)
}
