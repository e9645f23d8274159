package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentgate-dev/agentgate/internal/agentengine"
	"github.com/agentgate-dev/agentgate/internal/config"
	"github.com/agentgate-dev/agentgate/internal/firebaseauth"
	"github.com/agentgate-dev/agentgate/internal/httpapi"
	"github.com/agentgate-dev/agentgate/internal/servicenow"
	"github.com/agentgate-dev/agentgate/internal/telemetry"
	"github.com/agentgate-dev/agentgate/pkg/observability"
	"github.com/agentgate-dev/agentgate/pkg/router"
	"github.com/agentgate-dev/agentgate/pkg/sessionstore"
)

var (
	// Version is set via ldflags.
	Version = "dev"

	configFile = flag.String("config", getEnv("CONFIG_FILE", "config/agentgate.yaml"), "Configuration file")
)

func main() {
	flag.Parse()

	log.Printf("Starting agentgate v%s", Version)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := telemetry.InitFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	observability.InitMetrics()
	healthChecker := observability.NewHealthChecker()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Session store error: %v", err)
	}
	defer store.Close()

	healthChecker.RegisterCheck(observability.StoreCheck(func(ctx context.Context) error {
		_, _, err := store.Get(ctx, "health-probe")
		return err
	}))

	upstream, discovery := newUpstream(ctx, cfg)
	rt := router.New(store, upstream, discovery)

	server := httpapi.NewServer(cfg.Server.Port, httpapi.Options{
		Router:         rt,
		Security:       newSecurity(ctx, cfg),
		Incidents:      newIncidents(cfg, healthChecker),
		Health:         healthChecker,
		Environment:    cfg.Vertex.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("agentgate stopped")
}

// newStore builds the configured session store backend.
func newStore(ctx context.Context, cfg config.Config) (sessionstore.Store, error) {
	ttl := cfg.Sessions.SessionTTL()

	switch cfg.Sessions.Store {
	case "", "memory":
		return sessionstore.NewMemoryStore(ttl), nil
	case "redis":
		return sessionstore.NewRedisStore(sessionstore.RedisConfig{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			TTL:      ttl,
		})
	case "firestore":
		return sessionstore.NewFirestoreStore(ctx, cfg.Vertex.Project, cfg.Sessions.FirestoreCollection)
	default:
		return nil, &config.ConfigurationError{Capability: "session store", Missing: "known store kind (" + cfg.Sessions.Store + ")"}
	}
}

// newUpstream builds the agent backend and runs one-shot discovery. Any
// failure degrades the router to mock responses instead of aborting
// startup.
func newUpstream(ctx context.Context, cfg config.Config) (router.Upstream, *agentengine.Discovery) {
	discovery := agentengine.NewDiscovery()

	if cfg.Vertex.Project == "" {
		log.Printf("Upstream disabled: %v", &config.ConfigurationError{Capability: "vertex upstream", Missing: "project id"})
		return nil, discovery
	}

	var client agentengine.Client
	var err error
	switch cfg.Vertex.Backend {
	case "gemini":
		client, err = agentengine.NewGeminiClient(ctx, cfg.Vertex.Project, cfg.Vertex.Location, cfg.Vertex.Model)
	default:
		client, err = agentengine.NewRESTClient(ctx, cfg.Vertex.Project, cfg.Vertex.Location)
	}
	if err != nil {
		log.Printf("Upstream disabled: %v", err)
		return nil, discovery
	}

	if err := discovery.Run(ctx, client, cfg.Vertex.AgentDisplayName); err != nil {
		log.Printf("Agent discovery failed, serving mock responses: %v", err)
		return client, discovery
	}
	if rest, ok := client.(*agentengine.RESTClient); ok {
		if agent, ok := discovery.Agent(); ok {
			rest.UseAgent(agent)
		}
	}
	return client, discovery
}

// newSecurity builds the Firebase validation service when configured.
func newSecurity(ctx context.Context, cfg config.Config) *firebaseauth.Service {
	if !cfg.Security.Enabled {
		return nil
	}
	if cfg.Vertex.Project == "" {
		log.Printf("Security disabled: %v", &config.ConfigurationError{Capability: "security", Missing: "project id"})
		return nil
	}

	client, err := firebaseauth.NewClient(ctx, cfg.Vertex.Project)
	if err != nil {
		log.Printf("Security disabled: %v", err)
		return nil
	}
	return firebaseauth.NewService(client, firebaseauth.Policy{
		Production:     cfg.IsProduction(),
		AllowedDomains: cfg.Security.AllowedDomains,
	})
}

// newIncidents builds the ServiceNow client when configured and registers
// its health check.
func newIncidents(cfg config.Config, hc *observability.HealthChecker) *servicenow.Client {
	if cfg.ServiceNow.InstanceURL == "" {
		log.Printf("Incident tools disabled: %v", &config.ConfigurationError{Capability: "servicenow", Missing: "instance URL"})
		return nil
	}

	client, err := servicenow.NewClient(servicenow.Config{
		InstanceURL:       cfg.ServiceNow.InstanceURL,
		AuthType:          cfg.ServiceNow.AuthType,
		Username:          cfg.ServiceNow.Username,
		Password:          cfg.ServiceNow.Password,
		ClientID:          cfg.ServiceNow.ClientID,
		ClientSecret:      cfg.ServiceNow.ClientSecret,
		TokenURL:          cfg.ServiceNow.TokenURL,
		APIKey:            cfg.ServiceNow.APIKey,
		APIKeyHeader:      cfg.ServiceNow.APIKeyHeader,
		Timeout:           cfg.ServiceNow.RequestTimeout(),
		RequestsPerSecond: cfg.ServiceNow.RequestsPerSecond,
	})
	if err != nil {
		log.Printf("Incident tools disabled: %v", err)
		return nil
	}

	hc.RegisterCheck(observability.ExternalServiceCheck("servicenow", client.Ping))
	return client
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
