package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nearbyops/geodispatch/internal/auth"
	"github.com/nearbyops/geodispatch/internal/core/config"
	"github.com/nearbyops/geodispatch/internal/core/observability"
	"github.com/nearbyops/geodispatch/internal/core/server"
	"github.com/nearbyops/geodispatch/internal/logger"
	"github.com/nearbyops/geodispatch/internal/neighbors"
	"github.com/nearbyops/geodispatch/internal/orchestrator"
	"github.com/nearbyops/geodispatch/internal/push"
	"github.com/nearbyops/geodispatch/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional, the platform environment wins
	_ = godotenv.Load()

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "geodispatch",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting geodispatch",
		"addr", cfg.Addr,
		"version", Version,
		"precision", cfg.Precision,
		"collection", cfg.Store.Collection)

	keyPEM := []byte(cfg.Auth.KeyPEM)
	if cfg.Auth.KeyFile != "" {
		b, err := os.ReadFile(cfg.Auth.KeyFile)
		if err != nil {
			appLog.Error("read signing key", "file", cfg.Auth.KeyFile, "err", err)
			return 1
		}
		keyPEM = b
	}

	// shared client for all outbound calls (token exchange, store, push)
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	credentials, err := auth.NewManager(auth.Config{
		TokenURL:        cfg.Auth.TokenURL,
		Issuer:          cfg.Auth.Issuer,
		Scope:           cfg.Auth.Scope,
		Audience:        cfg.Auth.Audience,
		PrivateKeyPEM:   keyPEM,
		RefreshMargin:   cfg.Auth.RefreshMargin,
		ExchangeTimeout: cfg.Auth.ExchangeTimeout,
	}, httpClient)
	if err != nil {
		appLog.Error("credential manager setup failed", "err", err)
		return 1
	}

	contract := store.Contract{
		Collection:        cfg.Store.Collection,
		AvailabilityField: cfg.Store.AvailabilityField,
		ServicesField:     cfg.Store.ServicesField,
		SpatialField:      cfg.Store.SpatialField,
		RecipientField:    cfg.Store.RecipientField,
		InLimit:           cfg.Store.InLimit,
	}

	storeClient, err := store.NewClient(appLog, httpClient, cfg.Store.URL, credentials, cfg.Store.Timeout)
	if err != nil {
		appLog.Error("store client setup failed", "err", err)
		return 1
	}

	gateway := push.NewOneSignal(appLog, httpClient, push.OneSignalConfig{
		BaseURL: cfg.Push.URL,
		AppID:   cfg.Push.AppID,
		APIKey:  cfg.Push.APIKey,
		Timeout: cfg.Push.Timeout,
	})
	dispatcher := push.NewDispatcher(appLog, gateway)

	expander, err := neighbors.New(cfg.MinPrecision, cfg.NeighborCacheSize)
	if err != nil {
		appLog.Error("expander setup failed", "err", err)
		return 1
	}

	orch := orchestrator.New(orchestrator.Config{
		Precision:     cfg.Precision,
		Contract:      contract,
		StoreFailOpen: cfg.Store.FailOpen,
	}, appLog, expander, storeClient, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, appLog, orch); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	return 0
}
