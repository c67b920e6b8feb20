package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		SiteURL  string `koanf:"site_url"`
		LogLevel string `koanf:"log_level"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
		IdleTimeout  time.Duration `koanf:"idle_timeout"`
	} `koanf:"http"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	RateLimit struct {
		CheckoutPerMinute int           `koanf:"checkout_per_minute"`
		WebhookPerMinute  int           `koanf:"webhook_per_minute"`
		Window            time.Duration `koanf:"window"`
	} `koanf:"rate_limit"`

	StatusCache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"status_cache"`

	Rabbit struct {
		URL        string `koanf:"url"`
		Exchange   string `koanf:"exchange"`
		RoutingKey string `koanf:"routing_key"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers    []string `koanf:"brokers"`
		AuditTopic string   `koanf:"audit_topic"`
	} `koanf:"kafka"`

	Security struct {
		AuthSecret     string        `koanf:"auth_secret"`
		Issuer         string        `koanf:"issuer"`
		CancelTokenTTL time.Duration `koanf:"cancel_token_ttl"`
	} `koanf:"security"`

	Stripe struct {
		SecretKey     string `koanf:"secret_key"`
		WebhookSecret string `koanf:"webhook_secret"`
	} `koanf:"stripe"`

	PayPal struct {
		ClientID     string `koanf:"client_id"`
		ClientSecret string `koanf:"client_secret"`
		WebhookID    string `koanf:"webhook_id"`
		Env          string `koanf:"env"`
	} `koanf:"paypal"`

	Delivery struct {
		GoogleMapsAPIKey string `koanf:"google_maps_api_key"`
		BaseAddress      string `koanf:"base_address"`
	} `koanf:"delivery"`

	Custom struct {
		MinPriceCents int `koanf:"min_price_cents"`
		MaxPriceCents int `koanf:"max_price_cents"`
	} `koanf:"custom_items"`

	Expiry struct {
		WithSession    time.Duration `koanf:"with_session"`
		WithoutSession time.Duration `koanf:"without_session"`
		SweepInterval  time.Duration `koanf:"sweep_interval"`
	} `koanf:"expiry"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix BLOOMAPI_, nested with __)
	// e.g. BLOOMAPI_MYSQL__DSN, BLOOMAPI_STRIPE__SECRET_KEY
	if err := k.Load(env.Provider("BLOOMAPI_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BLOOMAPI_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn required")
	}
	if c.Security.AuthSecret == "" {
		return fmt.Errorf("security.auth_secret required")
	}
	return nil
}

// SiteURL returns the storefront origin without a trailing slash.
func (c Config) SiteURL() string {
	u := c.App.SiteURL
	if u == "" {
		u = "http://localhost:3000"
	}
	return strings.TrimRight(u, "/")
}

// StripeConfigured reports whether card checkout can be offered.
func (c Config) StripeConfigured() bool {
	return strings.TrimSpace(c.Stripe.SecretKey) != ""
}

// PayPalConfigured reports whether wallet checkout can be offered.
func (c Config) PayPalConfigured() bool {
	return strings.TrimSpace(c.PayPal.ClientID) != "" && strings.TrimSpace(c.PayPal.ClientSecret) != ""
}
