// Command gateway runs C9, the authenticating reverse proxy with a
// permission-aware response cache (spec.md §4.9), wired to C10's audit
// stream for every CORS rejection, auth failure, rate-limit breach, and
// proxied request. Grounded on cuemby-warren/cmd's listen-and-serve-with-
// graceful-shutdown shape, the same pattern go-server/cmd/main.go uses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/audit"
	"github.com/Kevinzh0C/fechatter-core/internal/auth"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/gateway"
	"github.com/Kevinzh0C/fechatter-core/internal/logging"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
)

func main() {
	cfg, err := config.Load("gateway")
	if err != nil {
		panic(err)
	}
	log := logging.New("gateway", cfg.Observability.LogLevel)
	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditLogger := audit.New(cfg.Audit, log)
	defer auditLogger.Stop(context.Background())

	routes := buildRoutes(cfg)
	// The gateway only verifies bearer tokens minted elsewhere; tokenDuration
	// is unused on the Verify path and kept at a sane default for parity
	// with NewJWTManager's signature.
	jwtManager := auth.NewJWTManager(cfg.Security.Auth.Secret, 24*time.Hour)

	srv := gateway.NewServer(routes, func() (http.Handler, error) {
		lb := gateway.NewLoadBalancer()
		cache := gateway.NewCache(cfg.Cache.MaxBytes)
		engine := gateway.NewEngine(routes, lb, cache, jwtManager, cfg.Security.CORS, cfg.Security.RateLimiting, reg, log, auditLogger.GatewayEmitter())
		return engine.Handler(cfg.Security.CORS), nil
	}, reg, log)

	runServerAndMetrics(ctx, cfg, srv, reg, log)
}

// buildRoutes names the upstream pools C9 proxies to. spec.md does not
// carry a route-table format of its own, so each path prefix shares the
// same upstream pool configured for the service, differentiated by
// whether GET responses are cacheable.
func buildRoutes(cfg *config.Config) []gateway.Route {
	upstreams := cfg.Upstream.URLs
	return []gateway.Route{
		{
			PathPrefix: "/api/chats",
			Upstreams:  upstreams,
			CacheRule: &gateway.CacheRule{
				Methods:        []string{http.MethodGet},
				TTL:            cfg.Cache.DefaultTTL,
				QueryVariants:  []string{"cursor", "limit"},
				HeaderVariants: []string{"Accept-Language"},
			},
		},
		{
			PathPrefix: "/api/messages",
			Upstreams:  upstreams,
			CacheRule: &gateway.CacheRule{
				Methods:       []string{http.MethodGet},
				TTL:           cfg.Cache.DefaultTTL,
				QueryVariants: []string{"cursor", "limit"},
			},
		},
		{
			PathPrefix: "/api/users",
			Upstreams:  upstreams,
			CacheRule: &gateway.CacheRule{
				Methods: []string{http.MethodGet},
				TTL:     cfg.Cache.DefaultTTL,
			},
		},
		{
			PathPrefix: "/api/search",
			Upstreams:  upstreams,
		},
		{
			PathPrefix: "/api",
			Upstreams:  upstreams,
		},
	}
}

func runServerAndMetrics(ctx context.Context, cfg *config.Config, gw http.Handler, reg *metrics.Registry, log zerolog.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	metricsMux.HandleFunc(cfg.Observability.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: addr(cfg.Observability.Metrics.Port), Handler: metricsMux}

	gwSrv := &http.Server{
		Addr:         addr(cfg.Server.Port),
		Handler:      gw,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway: metrics server error")
		}
	}()
	go func() {
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway: proxy server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()
	_ = gwSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func addr(port int) string {
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}
