package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateBackend(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.validateIdentity(); err != nil {
		return fmt.Errorf("identity config: %w", err)
	}

	if err := c.validateFederated(); err != nil {
		return fmt.Errorf("federated config: %w", err)
	}

	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.validatePayments(); err != nil {
		return fmt.Errorf("payments config: %w", err)
	}

	if err := c.validateReauth(); err != nil {
		return fmt.Errorf("reauth config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	sameSite := strings.ToLower(c.Server.CookieSameSite)
	if sameSite != "lax" && sameSite != "strict" && sameSite != "none" {
		return fmt.Errorf("invalid cookie_same_site: %s (must be lax, strict, or none)", c.Server.CookieSameSite)
	}

	if c.Server.SessionTTL < time.Minute {
		return fmt.Errorf("session_ttl must be at least 1 minute")
	}

	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("url is required")
	}

	if _, err := url.Parse(c.Backend.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if strings.EqualFold(c.Backend.TokenHeader, "Authorization") {
		return fmt.Errorf("token_header must not be Authorization (reserved for API-key traffic)")
	}

	return nil
}

func (c *Config) validateIdentity() error {
	if c.Identity.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}

	if _, err := url.Parse(c.Identity.IdentityURL); err != nil {
		return fmt.Errorf("invalid identity_url: %w", err)
	}

	if _, err := url.Parse(c.Identity.SecureTokenURL); err != nil {
		return fmt.Errorf("invalid secure_token_url: %w", err)
	}

	if c.Identity.RefreshSkew < 0 {
		return fmt.Errorf("refresh_skew must be positive")
	}

	return nil
}

func (c *Config) validateFederated() error {
	if !c.FederatedEnabled() {
		return nil
	}

	if _, err := url.Parse(c.Federated.Issuer); err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if c.Federated.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}

	if c.Federated.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}

	hasOpenID := false
	for _, scope := range c.Federated.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required")
	}

	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("invalid type: %s (must be memory or redis)", c.Cache.Type)
	}

	if c.Cache.Type == "redis" {
		if c.Cache.Redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

// provisionResponseMargin is left between the provisioning deadline and
// the server write deadline so the timeout message still reaches the browser.
const provisionResponseMargin = 5 * time.Second

func (c *Config) validatePayments() error {
	if c.Payments.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	if c.Payments.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be positive")
	}

	if c.Payments.AttemptTimeout <= 0 || c.Payments.ProvisionTimeout <= 0 {
		return fmt.Errorf("attempt_timeout and provision_timeout must be positive")
	}
	if c.Payments.AttemptTimeout > c.Payments.ProvisionTimeout {
		return fmt.Errorf("attempt_timeout (%s) exceeds provision_timeout (%s)", c.Payments.AttemptTimeout, c.Payments.ProvisionTimeout)
	}
	if c.Payments.ProvisionTimeout+provisionResponseMargin > c.Server.WriteTimeout {
		return fmt.Errorf("provision_timeout (%s) must end at least %s before server.write_timeout (%s)",
			c.Payments.ProvisionTimeout, provisionResponseMargin, c.Server.WriteTimeout)
	}

	ids := make(map[string]bool)
	for i, plan := range c.Payments.Plans {
		if plan.ID == "" {
			return fmt.Errorf("plan %d: id is required", i)
		}
		if ids[plan.ID] {
			return fmt.Errorf("plan %d: duplicate id: %s", i, plan.ID)
		}
		ids[plan.ID] = true
	}

	return nil
}

func (c *Config) validateReauth() error {
	if c.Reauth.MaxAge < 30*time.Second {
		return fmt.Errorf("max_age must be at least 30 seconds")
	}

	if c.Reauth.PendingTTL < time.Minute {
		return fmt.Errorf("pending_ttl must be at least 1 minute")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
