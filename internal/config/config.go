// Package config loads server settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"

	"storefront/server/internal/auth"
	"storefront/server/internal/broker"
	"storefront/server/internal/observability"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port           string
	InstanceID     string
	InstanceRegion string

	ServiceAccountEmail string
	PrivateKey          string
	SpreadsheetID       string

	TokenURL        string
	ExchangeTimeout time.Duration
	ProductCacheTTL time.Duration
	OrderRateLimit  int
	// TrustedProxyHops is how many reverse proxies append to X-Forwarded-For.
	TrustedProxyHops int

	LokiURL    string
	LokiUser   string
	LokiAPIKey string
	AppEnv     string
}

// key -> environment variable
var envKeys = map[string]string{
	"port":                   "PORT",
	"instance_id":            "INSTANCE_ID",
	"instance_region":        "INSTANCE_REGION",
	"service_account_email":  "GOOGLE_SERVICE_ACCOUNT_EMAIL",
	"private_key":            "GOOGLE_PRIVATE_KEY",
	"spreadsheet_id":         "SPREADSHEET_ID",
	"token_url":              "GOOGLE_TOKEN_URL",
	"token_exchange_timeout": "TOKEN_EXCHANGE_TIMEOUT",
	"product_cache_ttl":      "PRODUCT_CACHE_TTL",
	"order_rate_limit":       "ORDER_RATE_LIMIT",
	"trusted_proxy_hops":     "TRUSTED_PROXY_HOPS",
	"loki_url":               "GRAFANA_LOKI_URL",
	"loki_user":              "GRAFANA_LOKI_USER",
	"loki_api_key":           "GRAFANA_LOKI_API_KEY",
	"app_env":                "APP_ENV",
}

var required = []string{"service_account_email", "private_key", "spreadsheet_id"}

// Load reads configuration from the environment and applies defaults.
// It fails when a required value is missing or a value does not parse.
func Load() (*Config, error) {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", env)
		}
	}

	v.SetDefault("port", "8089")
	v.SetDefault("instance_id", "local")
	v.SetDefault("instance_region", "local")
	v.SetDefault("token_url", broker.DefaultTokenURL)
	v.SetDefault("token_exchange_timeout", broker.DefaultExchangeTimeout.String())
	v.SetDefault("product_cache_ttl", "30s")
	v.SetDefault("order_rate_limit", 5)
	v.SetDefault("trusted_proxy_hops", 0)

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, envKeys[key])
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}

	timeout, err := parseDuration(v, "token_exchange_timeout")
	if err != nil {
		return nil, err
	}
	ttl, err := parseDuration(v, "product_cache_ttl")
	if err != nil {
		return nil, err
	}
	rateLimit := v.GetInt("order_rate_limit")
	if rateLimit < 1 {
		return nil, errors.Errorf("%s must be a positive integer", envKeys["order_rate_limit"])
	}
	proxyHops := v.GetInt("trusted_proxy_hops")
	if proxyHops < 0 {
		return nil, errors.Errorf("%s must not be negative", envKeys["trusted_proxy_hops"])
	}

	return &Config{
		Port:                v.GetString("port"),
		InstanceID:          v.GetString("instance_id"),
		InstanceRegion:      v.GetString("instance_region"),
		ServiceAccountEmail: v.GetString("service_account_email"),
		PrivateKey:          v.GetString("private_key"),
		SpreadsheetID:       v.GetString("spreadsheet_id"),
		TokenURL:            v.GetString("token_url"),
		ExchangeTimeout:     timeout,
		ProductCacheTTL:     ttl,
		OrderRateLimit:      rateLimit,
		TrustedProxyHops:    proxyHops,
		LokiURL:             v.GetString("loki_url"),
		LokiUser:            v.GetString("loki_user"),
		LokiAPIKey:          v.GetString("loki_api_key"),
		AppEnv:              v.GetString("app_env"),
	}, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", envKeys[key])
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive", envKeys[key])
	}
	return d, nil
}

// Identity returns the service account identity for the token broker.
func (c *Config) Identity() auth.Identity {
	return auth.Identity{ClientEmail: c.ServiceAccountEmail, PrivateKeyPEM: c.PrivateKey}
}

// Observability returns the Loki settings.
func (c *Config) Observability() observability.Config {
	appName := "storefront-dev"
	if c.AppEnv != "" {
		appName = "storefront-" + c.AppEnv
	}
	return observability.Config{
		URL:            c.LokiURL,
		Username:       c.LokiUser,
		APIKey:         c.LokiAPIKey,
		AppName:        appName,
		InstanceID:     c.InstanceID,
		InstanceRegion: c.InstanceRegion,
	}
}
