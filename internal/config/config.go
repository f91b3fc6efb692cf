package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Tenants  []TenantConfig `mapstructure:"tenants"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DeliveryConfig points pushed alerts at the platform event endpoint.
type DeliveryConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TenantConfig struct {
	ID        string           `mapstructure:"id"`
	APIKey    string           `mapstructure:"api_key"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig is the generic envelope every provider type is built from.
// Authentication is decoded by the provider itself.
type ProviderConfig struct {
	ID                string         `mapstructure:"id" json:"id"`
	Type              string         `mapstructure:"type" json:"type"`
	Name              string         `mapstructure:"name" json:"name,omitempty"`
	Authentication    map[string]any `mapstructure:"authentication" json:"-"`
	FingerprintFields []string       `mapstructure:"fingerprint_fields" json:"fingerprint_fields,omitempty"`
}

// TenantByAPIKey returns the tenant owning key.
func (c *Config) TenantByAPIKey(key string) (*TenantConfig, bool) {
	if key == "" {
		return nil, false
	}
	for i := range c.Tenants {
		if c.Tenants[i].APIKey == key {
			return &c.Tenants[i], true
		}
	}
	return nil, false
}

// Tenant returns the tenant with the given id.
func (c *Config) Tenant(id string) (*TenantConfig, bool) {
	for i := range c.Tenants {
		if c.Tenants[i].ID == id {
			return &c.Tenants[i], true
		}
	}
	return nil, false
}

// Provider returns the tenant's provider with the given id.
func (t *TenantConfig) Provider(id string) (*ProviderConfig, bool) {
	for i := range t.Providers {
		if t.Providers[i].ID == id {
			return &t.Providers[i], true
		}
	}
	return nil, false
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return errors.New("tenant id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate tenant %s", t.ID)
		}
		seen[t.ID] = true

		ids := make(map[string]bool, len(t.Providers))
		for _, p := range t.Providers {
			if p.ID == "" || p.Type == "" {
				return fmt.Errorf("tenant %s: provider id and type are required", t.ID)
			}
			if ids[p.ID] {
				return fmt.Errorf("tenant %s: duplicate provider %s", t.ID, p.ID)
			}
			ids[p.ID] = true
		}
	}
	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("database.path", "./alertflow.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("delivery.api_url", "http://localhost:8080/api/v1")
	v.SetDefault("delivery.timeout", "10s")

	// Read from environment variables, e.g. ALERTFLOW_SERVER_PORT
	v.SetEnvPrefix("ALERTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return decode(v)
}

// Watch loads the config at configPath and calls onChange with every valid
// revision written afterwards. Invalid revisions are logged and ignored.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) (*Config, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	initial, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Error("ignoring config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name), zap.Int("tenants", len(cfg.Tenants)))
		onChange(cfg)
	})
	v.WatchConfig()

	return initial, nil
}
