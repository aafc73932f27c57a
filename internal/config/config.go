package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix          = "VAULT_INSIGHTS"
	DefaultConcurrency = 8
	DefaultSinceDays   = 14
	DefaultTimeout     = 30 * time.Second
)

// ErrInvalidCredentials is returned when key, token or vault_url are missing.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Config models ~/.config/vault-insights.
type Config struct {
	Key          string        `mapstructure:"key" yaml:"key"`
	Token        string        `mapstructure:"token" yaml:"token"`
	VaultURL     string        `mapstructure:"vault_url" yaml:"vault_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	SinceDaysAgo int           `mapstructure:"since_days_ago" yaml:"since_days_ago"`
	HistoryDB    string        `mapstructure:"history_db" yaml:"history_db,omitempty"`
}

// DefaultPath returns ~/.config/vault-insights.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".config", "vault-insights")
	}
	return filepath.Join(home, ".config", "vault-insights")
}

// DefaultHistoryDB returns the sqlite path used when history_db is unset.
func DefaultHistoryDB() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "vault-insights", "history.db")
}

// SetDefaults registers every known key so AutomaticEnv can see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("key", "")
	v.SetDefault("token", "")
	v.SetDefault("vault_url", "")
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("since_days_ago", DefaultSinceDays)
	v.SetDefault("history_db", "")
}

// InitEnv wires environment overrides (VAULT_INSIGHTS_*) and a local .env file.
func InitEnv(v *viper.Viper) {
	_ = godotenv.Load()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads the TOML config at path into v and decodes it. A missing file is
// not an error by itself; Validate reports the empty credentials instead.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.VaultURL = strings.TrimRight(strings.TrimSpace(cfg.VaultURL), "/")
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = DefaultHistoryDB()
	}
	return &cfg, nil
}

// FromTOML parses config from raw TOML bytes without validating it.
func FromTOML(data []byte) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.VaultURL = strings.TrimRight(strings.TrimSpace(cfg.VaultURL), "/")
	return &cfg, nil
}

// Validate ensures key, token and vault_url are set and usable.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(c.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(c.VaultURL) == "" {
		missing = append(missing, "vault_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrInvalidCredentials, strings.Join(missing, ", "))
	}
	u, err := url.Parse(c.VaultURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: vault_url must be an absolute http(s) URL, got %q", ErrInvalidCredentials, c.VaultURL)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "****"
	}
	return c
}

// ToYAML renders the config (redacted) as YAML.
func (c Config) ToYAML() (string, error) {
	b, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Help explains where and how credentials are configured.
func Help(path string) string {
	return fmt.Sprintf(`Make sure key, token and vault_url are set inside %s in the format:

%s
or exported as %s_KEY, %s_TOKEN and %s_VAULT_URL.`, path, Template, EnvPrefix, EnvPrefix, EnvPrefix)
}

// Template is written by `config init`.
const Template = `key = "abc123"
token = "def456"
vault_url = "https://myapiurl.com"
`

// WriteTemplate writes Template to path unless the file exists.
func WriteTemplate(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config %s already exists; pass --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
