package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Bridge struct {
		// Driver selects the pub/sub transport: "redis" or "amqp".
		Driver   string `yaml:"driver"`
		Channel  string `yaml:"channel"`
		AMQPURL  string `yaml:"amqpURL"`
		Exchange string `yaml:"exchange"`
	} `yaml:"bridge"`

	JWT struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		TTL      string `yaml:"ttl"`
	} `yaml:"jwt"`

	RateLimit struct {
		LoginPerMinute   int `yaml:"loginPerMinute"`
		PublishPerMinute int `yaml:"publishPerMinute"`
	} `yaml:"rateLimit"`

	Storage struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"accessKey"`
		SecretKey string `yaml:"secretKey"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"useSSL"`
	} `yaml:"storage"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads config from path (defaults to config.yaml). A .env file in the
// working directory is applied first, best-effort, then environment
// variables override file values.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()

	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BRIDGE_DRIVER"); v != "" {
		cfg.Bridge.Driver = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Bridge.AMQPURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required (set in config.yaml or JWT_SECRET)")
	}
	switch cfg.Bridge.Driver {
	case "", "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis bridge")
		}
	case "amqp":
		if cfg.Bridge.AMQPURL == "" {
			return errors.New("config: bridge.amqpURL is required for the amqp bridge")
		}
	default:
		return fmt.Errorf("config: unknown bridge driver %q", cfg.Bridge.Driver)
	}
	return nil
}

// ParseJWTTTL parses the configured token lifetime; empty means default.
func ParseJWTTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse jwt ttl: %w", err)
	}
	return d, nil
}
