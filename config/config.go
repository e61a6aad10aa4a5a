// Package config resolves client settings from flags, environment, an
// optional config file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys double as flag names. The matching environment variable is the
// upper-cased key with dashes replaced by underscores (SERVER_URL).
const (
	KeyConfig          = "config"
	KeyServerURL       = "server-url"
	KeyClientID        = "client-id"
	KeyTokenFile       = "token-file"
	KeyRedisAddr       = "redis-addr"
	KeyNativeBridgeURL = "native-bridge-url"
	KeyBridgeListen    = "bridge-listen"
	KeyTimeout         = "timeout"
	KeyRetryBaseDelay  = "retry-base-delay"
	KeyRateLimit       = "rate-limit"
	KeyCacheTTL        = "cache-ttl"
	KeyCacheSize       = "cache-size"
	KeyCheckInterval   = "check-interval"
	KeyLowWater        = "low-water"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyLogFile         = "log-file"
)

// Config holds the resolved settings.
type Config struct {
	ServerURL       string        `mapstructure:"server-url"`
	ClientID        string        `mapstructure:"client-id"`
	TokenFile       string        `mapstructure:"token-file"`
	RedisAddr       string        `mapstructure:"redis-addr"`
	NativeBridgeURL string        `mapstructure:"native-bridge-url"`
	BridgeListen    string        `mapstructure:"bridge-listen"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryBaseDelay  time.Duration `mapstructure:"retry-base-delay"`
	RateLimit       float64       `mapstructure:"rate-limit"`
	CacheTTL        time.Duration `mapstructure:"cache-ttl"`
	CacheSize       int           `mapstructure:"cache-size"`
	CheckInterval   time.Duration `mapstructure:"check-interval"`
	LowWater        time.Duration `mapstructure:"low-water"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`
	LogFile         string        `mapstructure:"log-file"`
}

var defaults = map[string]any{
	KeyServerURL:      "http://localhost:8080",
	KeyTokenFile:      ".authgate-tokens.json",
	KeyTimeout:        30 * time.Second,
	KeyRetryBaseDelay: time.Second,
	KeyRateLimit:      0.0,
	KeyCacheTTL:       5 * time.Minute,
	KeyCacheSize:      100,
	KeyCheckInterval:  30 * time.Second,
	KeyLowWater:       5 * time.Minute,
	KeyLogLevel:       "info",
	KeyLogFormat:      "",
}

// BindFlags registers every setting on fs and binds it into v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(KeyConfig, "", "config file (default: ./authclient.yaml if present)")
	fs.String(KeyServerURL, "", "API server URL (default: http://localhost:8080 or SERVER_URL env)")
	fs.String(KeyClientID, "", "OAuth client ID (required, or set CLIENT_ID env)")
	fs.String(KeyTokenFile, "", "token storage file (default: .authgate-tokens.json or TOKEN_FILE env)")
	fs.String(KeyRedisAddr, "", "redis address for shared durable token storage")
	fs.String(KeyNativeBridgeURL, "", "native shell message endpoint; enables the bridge")
	fs.String(KeyBridgeListen, "", "address serving handleAppLogin/handleAppLogout to the shell")
	fs.Duration(KeyTimeout, 0, "per-attempt request timeout")
	fs.Duration(KeyRetryBaseDelay, 0, "wait before the first transient retry")
	fs.Float64(KeyRateLimit, 0, "max requests per second, 0 for unlimited")
	fs.Duration(KeyCacheTTL, 0, "default TTL of cached GET responses")
	fs.Int(KeyCacheSize, 0, "max cached GET responses")
	fs.Duration(KeyCheckInterval, 0, "auto refresh check interval")
	fs.Duration(KeyLowWater, 0, "remaining token lifetime that triggers a refresh")
	fs.String(KeyLogLevel, "", "log level: debug, info, warn, error")
	fs.String(KeyLogFormat, "", "log format: console or json (default: console on a terminal)")
	fs.String(KeyLogFile, "", "also write logs to this file, rotated")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		errs = append(errs, v.BindPFlag(f.Name, f))
	})
	return errors.Join(errs...)
}

// Load resolves the configuration. A .env file in the working directory is
// loaded into the environment first when present.
func Load(v *viper.Viper) (Config, error) {
	_ = godotenv.Load()

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range []string{KeyClientID, KeyRedisAddr, KeyNativeBridgeURL, KeyBridgeListen, KeyLogFile} {
		v.SetDefault(k, "")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("authclient")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the client cannot run with.
func (c Config) Validate() error {
	if err := ValidateServerURL(c.ServerURL); err != nil {
		return fmt.Errorf("invalid SERVER_URL: %w", err)
	}
	if c.ClientID == "" {
		return errors.New("CLIENT_ID not set: use --client-id, the CLIENT_ID env var or a .env file")
	}
	if c.NativeBridgeURL != "" {
		if err := ValidateServerURL(c.NativeBridgeURL); err != nil {
			return fmt.Errorf("invalid NATIVE_BRIDGE_URL: %w", err)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative, got: %v", c.RateLimit)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache-size must be positive, got: %d", c.CacheSize)
	}
	return nil
}

// Warnings lists settings that work but deserve attention.
func (c Config) Warnings() []string {
	var out []string
	if strings.HasPrefix(strings.ToLower(c.ServerURL), "http://") {
		out = append(out, "using HTTP instead of HTTPS: tokens will be transmitted in plaintext")
	}
	if _, err := uuid.Parse(c.ClientID); err != nil {
		out = append(out, fmt.Sprintf("CLIENT_ID doesn't appear to be a valid UUID: %s", c.ClientID))
	}
	return out
}

// ValidateServerURL checks that rawURL is an absolute http(s) URL.
func ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
