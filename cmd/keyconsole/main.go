package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/marcogenualdo/keyconsole/internal/auth"
	"github.com/marcogenualdo/keyconsole/internal/auth/oidc"
	"github.com/marcogenualdo/keyconsole/internal/backend"
	"github.com/marcogenualdo/keyconsole/internal/cache"
	"github.com/marcogenualdo/keyconsole/internal/config"
	"github.com/marcogenualdo/keyconsole/internal/identity"
	"github.com/marcogenualdo/keyconsole/internal/keyview"
	"github.com/marcogenualdo/keyconsole/internal/metrics"
	"github.com/marcogenualdo/keyconsole/internal/provisioning"
	"github.com/marcogenualdo/keyconsole/internal/reauth"
	"github.com/marcogenualdo/keyconsole/internal/reveal"
	"github.com/marcogenualdo/keyconsole/internal/server"
)

const version = "1.0.0"

const defaultConfigPath = "/etc/keyconsole/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	configPathShort := flag.String("c", defaultConfigPath, "path to configuration file (short)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "show version and exit")
	showHelp := flag.Bool("help", false, "show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("keyconsole v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("keyconsole - API key console for the memory API")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfgPath := *configPath
	if *configPathShort != defaultConfigPath {
		cfgPath = *configPathShort
	}

	if err := run(cfgPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting keyconsole", "version", version)

	cacheInstance, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	idp := identity.NewFirebaseClient(cfg.Identity, nil)
	store := identity.NewStore(cacheInstance, cfg.Server.SessionTTL)
	tokens := identity.NewTokenProvider(idp, store, identity.TokenProviderOptions{
		RefreshSkew:  cfg.Identity.RefreshSkew,
		ReauthMaxAge: cfg.Reauth.MaxAge,
	}, logger)
	authenticator := identity.NewAuthenticator(idp, store, tokens, cfg.Identity.FederatedIDPID, logger)

	ctx := context.Background()
	var federation *auth.Federation
	if cfg.FederatedEnabled() {
		provider, err := oidc.NewProvider(ctx, cfg.Federated, cacheInstance)
		if err != nil {
			return fmt.Errorf("failed to create federated provider: %w", err)
		}
		federation = auth.NewFederation(provider, cacheInstance, cfg.Server.BaseURL, logger)
		logger.Info("federated provider initialized", "name", cfg.Federated.Name, "issuer", cfg.Federated.Issuer)
	}

	backendClient := backend.NewClient(cfg.Backend, nil, logger)
	m := metrics.New()
	secrets := reveal.NewSlot(cacheInstance, cfg.Reauth.RevealTTL)

	gateOpts := reauth.Options{
		Plan:     cfg.Reauth.Plan,
		ViewTTL:  cfg.Reauth.ViewTTL,
		Recorder: m,
	}
	if federation != nil {
		gateOpts.Federation = federation
	}
	gate := reauth.NewGate(authenticator, backendClient, secrets,
		reauth.NewPendingStore(cacheInstance, cfg.Reauth.PendingTTL), cacheInstance, gateOpts, logger)

	orchestrator := provisioning.NewOrchestrator(tokens, backendClient, secrets, cfg.Payments,
		provisioning.Options{Recorder: m}, logger)

	loader := keyview.NewLoader(gate, secrets, tokens, backendClient, nil, logger)

	srv, err := server.New(*cfg, server.Dependencies{
		Cache:        cacheInstance,
		Identity:     idp,
		Store:        store,
		Auth:         authenticator,
		Federation:   federation,
		Backend:      backendClient,
		Gate:         gate,
		Orchestrator: orchestrator,
		Loader:       loader,
		Metrics:      m,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	out := os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
