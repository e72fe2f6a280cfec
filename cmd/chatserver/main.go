// Command chatserver runs C3 (message domain), C4 (session enrichment),
// C5 (three-channel dispatch), C6 (cache invalidation), C7 (search index),
// and C11 (consistency auditor) in one process — the "core" data-plane
// service spec.md §1 describes, excluding the REST handler surface it
// names as explicitly out of scope. Grounded on
// go-server/cmd/main.go's load-config/build-server/run/signal-drain shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/cacheinval"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/consistency"
	"github.com/Kevinzh0C/fechatter-core/internal/events"
	"github.com/Kevinzh0C/fechatter-core/internal/logging"
	"github.com/Kevinzh0C/fechatter-core/internal/message"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
	"github.com/Kevinzh0C/fechatter-core/internal/publisher"
	"github.com/Kevinzh0C/fechatter-core/internal/searchindex"
	"github.com/Kevinzh0C/fechatter-core/internal/session"
	"github.com/Kevinzh0C/fechatter-core/pkg/eventbus"
)

func main() {
	cfg, err := config.Load("chatserver")
	if err != nil {
		panic(err)
	}
	log := logging.New("chatserver", cfg.Observability.LogLevel)
	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dsnFromConfig(cfg.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("chatserver: connect to database")
	}
	defer pool.Close()

	transport, err := eventbus.NewNATSTransport(eventbus.DefaultNATSConfig(cfg.Messaging.BrokerURL), log)
	if err != nil {
		log.Fatal().Err(err).Msg("chatserver: connect to event transport")
	}
	defer transport.Close()

	pub := publisher.New(transport, publisher.DefaultConfig(), log)
	pub.OnDegrade(func() {
		reg.DegradationTotal.Inc()
		log.Warn().Msg("chatserver: adaptive publisher degraded HighPerf -> Legacy")
	})
	defer pub.Close()

	store := message.NewPGStore(pool)
	svc := message.NewService(store)

	dispatcher := events.NewDispatcher(pub, transport, log)
	dispatcher.ChatMembers = store.ChatMemberIDs
	svc.Dispatch = dispatcher.HandleOutcome

	sessions := session.NewMap(log)
	_ = session.NewEnricher(sessions, log) // wired into the (out-of-scope) analytics ingestion boundary

	startCacheInvalidationConsumer(ctx, cfg, transport, reg, log)
	startSearchIndexConsumer(ctx, cfg, transport, store, log)

	auditor := buildConsistencyAuditor(cfg, reg, log)
	go auditor.Run(ctx)

	_ = svc // constructed here so the dispatch wiring above is exercised; the REST boundary that calls it is out of scope

	runHealthAndMetrics(ctx, cfg, log)
}

func dsnFromConfig(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

func startCacheInvalidationConsumer(ctx context.Context, cfg *config.Config, transport eventbus.Transport, reg *metrics.Registry, log zerolog.Logger) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.URL})
	sub := cacheinval.NewSubscriber(rdb, cacheinval.DefaultConfig(), log)
	sub.Alarm = func(reason string) {
		reg.CacheInvalidateErrors.Inc()
		log.Error().Str("reason", reason).Msg("chatserver: cache invalidation exhausted retries")
	}

	for _, subject := range []string{eventbus.DomainSubjectMessage, eventbus.DomainSubjectChat, eventbus.DomainSubjectUser} {
		subject := subject
		_, err := transport.Subscribe(ctx, subject, consumerConfig("cacheinval"), func(m eventbus.Message) {
			evt, err := events.DecodeDomainEvent(m.Data)
			if err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("chatserver: malformed domain event")
				return
			}
			reg.OperationTotal.WithLabelValues("cache_invalidate").Inc()
			if err := sub.HandleDomainEvent(ctx, evt); err != nil {
				reg.OperationPartial.WithLabelValues("cache_invalidate").Inc()
				log.Warn().Err(err).Msg("chatserver: cache invalidation handling failed")
			}
			if m.Ack != nil {
				_ = m.Ack()
			}
		})
		if err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("chatserver: subscribe for cache invalidation failed")
		}
	}
}

func startSearchIndexConsumer(ctx context.Context, cfg *config.Config, transport eventbus.Transport, store message.Repository, log zerolog.Logger) {
	adapter := searchindex.NewMeiliAdapter(cfg.Search.URL, cfg.Search.APIKey)
	sub := searchindex.NewSubscriber(adapter, cfg.Search.IndexName, log)
	sub.MessageSource = func(ctx context.Context, messageID int64) (*message.Message, searchindex.ChatContext, error) {
		msg, err := store.Get(ctx, messageID)
		return msg, searchindex.ChatContext{}, err
	}

	_, err := transport.Subscribe(ctx, eventbus.DomainSubjectSystem, consumerConfig("searchindex"), func(m eventbus.Message) {
		evt, err := events.DecodeDomainEvent(m.Data)
		if err != nil || evt.System == nil {
			return
		}
		if err := sub.HandleSystemEvent(ctx, *evt.System); err != nil {
			log.Warn().Err(err).Msg("chatserver: search index update failed")
		}
		if m.Ack != nil {
			_ = m.Ack()
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("chatserver: subscribe for search index updates failed")
	}
}

func buildConsistencyAuditor(cfg *config.Config, reg *metrics.Registry, log zerolog.Logger) *consistency.Auditor {
	ops := []string{"cache_invalidate", "search_index_update", "notification_dispatch", "gateway_request"}
	a := consistency.New(cfg.Consistency, reg, log, ops, 2)
	a.Alarm = func(report consistency.Report) {
		log.Error().Int("high_risks", report.HighRisks).Msg("chatserver: consistency auditor alarm threshold reached")
	}
	return a
}

func consumerConfig(durable string) *eventbus.ConsumerConfig {
	cfg := eventbus.DomainConsumerConfig(durable)
	return &cfg
}

func runHealthAndMetrics(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Observability.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.Metrics.Port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("chatserver: health/metrics server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
