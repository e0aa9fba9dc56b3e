package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Identity  IdentityConfig  `yaml:"identity"`
	Federated FederatedConfig `yaml:"federated"`
	Cache     CacheConfig     `yaml:"cache"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Reauth    ReauthConfig    `yaml:"reauth"`
	Logging   LoggingConfig   `yaml:"logging"`
	UI        UIConfig        `yaml:"ui"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	CookieName     string        `yaml:"cookie_name"`
	CookieDomain   string        `yaml:"cookie_domain"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	CookieHTTPOnly bool          `yaml:"cookie_http_only"`
	CookieSameSite string        `yaml:"cookie_same_site"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type BackendConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	TokenHeader string        `yaml:"token_header"`
}

type IdentityConfig struct {
	APIKey         string        `yaml:"api_key"`
	IdentityURL    string        `yaml:"identity_url"`
	SecureTokenURL string        `yaml:"secure_token_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RefreshSkew    time.Duration `yaml:"refresh_skew"`
	ContinueURL    string        `yaml:"continue_url"`
	FederatedIDPID string        `yaml:"federated_provider_id"`
}

type FederatedConfig struct {
	Enable       *bool    `yaml:"enable"`
	Name         string   `yaml:"name"`
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	HD           string   `yaml:"hd,omitempty"`
	ReauthPrompt string   `yaml:"reauth_prompt"`
}

type CacheConfig struct {
	Type  string       `yaml:"type"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// PaymentsConfig drives checkout. ProvisionTimeout bounds all order
// attempts and waits together, AttemptTimeout a single attempt (token
// refresh plus call); both must leave the response time to be written
// before server.write_timeout.
type PaymentsConfig struct {
	MaxAttempts      int            `yaml:"max_attempts"`
	RetryBackoff     time.Duration  `yaml:"retry_backoff"`
	AttemptTimeout   time.Duration  `yaml:"attempt_timeout"`
	ProvisionTimeout time.Duration  `yaml:"provision_timeout"`
	CheckoutTimeout  time.Duration  `yaml:"checkout_timeout"`
	DefaultCurrency  string         `yaml:"default_currency"`
	MerchantName     string         `yaml:"merchant_name"`
	Description      string         `yaml:"description"`
	ThemeColor       string         `yaml:"theme_color"`
	CheckoutScript   string         `yaml:"checkout_script"`
	Methods          PaymentMethods `yaml:"methods"`
	Plans            []PlanConfig   `yaml:"plans"`
}

type PaymentMethods struct {
	UPI        bool `yaml:"upi"`
	Card       bool `yaml:"card"`
	Netbanking bool `yaml:"netbanking"`
	Wallet     bool `yaml:"wallet"`
}

type PlanConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Price    string   `yaml:"price"`
	Period   string   `yaml:"period"`
	Features []string `yaml:"features"`
}

type ReauthConfig struct {
	MaxAge     time.Duration `yaml:"max_age"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
	ViewTTL    time.Duration `yaml:"view_ttl"`
	RevealTTL  time.Duration `yaml:"reveal_ttl"`
	Plan       string        `yaml:"regenerate_plan"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type UIConfig struct {
	Title       string `yaml:"title"`
	AccentColor string `yaml:"accent_color"`
	LogoPath    string `yaml:"logo_path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	if err := cfg.loadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}

	return &cfg, nil
}

// FederatedEnabled reports whether the federated provider is configured and switched on.
func (c *Config) FederatedEnabled() bool {
	return c.Federated.Enable != nil && *c.Federated.Enable && c.Federated.Issuer != ""
}

// Plan returns the configured plan with the given id.
func (c *Config) Plan(id string) (PlanConfig, bool) {
	for _, p := range c.Payments.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return PlanConfig{}, false
}

func (c *Config) setDefaults() error {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = "keyconsole-session"
	}
	if !c.Server.CookieHTTPOnly {
		c.Server.CookieHTTPOnly = true
	}
	if c.Server.CookieSameSite == "" {
		c.Server.CookieSameSite = "lax"
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 24 * time.Hour
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}

	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.TokenHeader == "" {
		c.Backend.TokenHeader = "X-Firebase-Token"
	}

	if c.Identity.IdentityURL == "" {
		c.Identity.IdentityURL = "https://identitytoolkit.googleapis.com/v1"
	}
	if c.Identity.SecureTokenURL == "" {
		c.Identity.SecureTokenURL = "https://securetoken.googleapis.com/v1/token"
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 15 * time.Second
	}
	if c.Identity.RefreshSkew == 0 {
		c.Identity.RefreshSkew = time.Minute
	}
	if c.Identity.FederatedIDPID == "" {
		c.Identity.FederatedIDPID = "google.com"
	}

	if c.Federated.Enable == nil {
		defaultEnable := c.Federated.Issuer != ""
		c.Federated.Enable = &defaultEnable
	}
	if c.Federated.Name == "" {
		c.Federated.Name = "Google"
	}
	if c.Federated.ReauthPrompt == "" {
		c.Federated.ReauthPrompt = "login"
	}
	if len(c.Federated.Scopes) == 0 {
		c.Federated.Scopes = []string{"openid", "email", "profile"}
	}

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if c.Cache.Redis.PoolSize == 0 {
			c.Cache.Redis.PoolSize = 10
		}
		if c.Cache.Redis.MaxRetries == 0 {
			c.Cache.Redis.MaxRetries = 3
		}
		if c.Cache.Redis.KeyPrefix == "" {
			c.Cache.Redis.KeyPrefix = "keyconsole:"
		}
	}

	if c.Payments.MaxAttempts == 0 {
		c.Payments.MaxAttempts = 12
	}
	if c.Payments.RetryBackoff == 0 {
		c.Payments.RetryBackoff = 3 * time.Second
	}
	if c.Payments.CheckoutTimeout == 0 {
		c.Payments.CheckoutTimeout = 30 * time.Minute
	}
	if c.Payments.AttemptTimeout == 0 {
		c.Payments.AttemptTimeout = 10 * time.Second
	}
	if c.Payments.ProvisionTimeout == 0 {
		c.Payments.ProvisionTimeout = 45 * time.Second
	}
	if c.Payments.DefaultCurrency == "" {
		c.Payments.DefaultCurrency = "INR"
	}
	if c.Payments.MerchantName == "" {
		c.Payments.MerchantName = "Orbmem"
	}
	if c.Payments.Description == "" {
		c.Payments.Description = "API Key Subscription"
	}
	if c.Payments.ThemeColor == "" {
		c.Payments.ThemeColor = "#4fc3f7"
	}
	if c.Payments.CheckoutScript == "" {
		c.Payments.CheckoutScript = "https://checkout.razorpay.com/v1/checkout.js"
	}
	if !c.Payments.Methods.UPI && !c.Payments.Methods.Card && !c.Payments.Methods.Netbanking && !c.Payments.Methods.Wallet {
		c.Payments.Methods.UPI = true
	}
	if len(c.Payments.Plans) == 0 {
		c.Payments.Plans = []PlanConfig{
			{
				ID:       "monthly",
				Name:     "Monthly",
				Price:    "₹499",
				Period:   "per month",
				Features: []string{"Unlimited API calls", "Memory + Vector + Graph", "Safety layer included"},
			},
			{
				ID:       "yearly",
				Name:     "Yearly",
				Price:    "₹4999",
				Period:   "per year",
				Features: []string{"Everything in Monthly", "2 months free", "Priority access"},
			},
		}
	}

	if c.Reauth.MaxAge == 0 {
		c.Reauth.MaxAge = 5 * time.Minute
	}
	if c.Reauth.PendingTTL == 0 {
		c.Reauth.PendingTTL = 10 * time.Minute
	}
	if c.Reauth.ViewTTL == 0 {
		c.Reauth.ViewTTL = 15 * time.Minute
	}
	if c.Reauth.RevealTTL == 0 {
		c.Reauth.RevealTTL = 10 * time.Minute
	}
	if c.Reauth.Plan == "" {
		c.Reauth.Plan = "basic"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.UI.Title == "" {
		c.UI.Title = "Orbmem Console"
	}
	if c.UI.AccentColor == "" {
		c.UI.AccentColor = "#4fc3f7"
	}

	return nil
}

func (c *Config) loadSecretsFromEnv() error {
	if envKey := os.Getenv("FIREBASE_API_KEY"); envKey != "" {
		c.Identity.APIKey = envKey
	}

	if envClientID := os.Getenv("OIDC_CLIENT_ID"); envClientID != "" {
		c.Federated.ClientID = envClientID
	}
	if envClientSecret := os.Getenv("OIDC_CLIENT_SECRET"); envClientSecret != "" {
		c.Federated.ClientSecret = envClientSecret
	}

	if envBackend := os.Getenv("BACKEND_URL"); envBackend != "" {
		c.Backend.URL = envBackend
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
			c.Cache.Redis.Password = envPassword
		}
	}

	return nil
}
