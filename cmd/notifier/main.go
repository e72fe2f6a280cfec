// Command notifier runs C8, converting Message domain events carrying
// mentions or a direct-message delivery into multi-channel notifications
// (spec.md §4.8), and wires every total-failure into C10's audit stream.
// Grounded on go-server/cmd/main.go's load-config/build-consumer/run shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/audit"
	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/events"
	"github.com/Kevinzh0C/fechatter-core/internal/logging"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
	"github.com/Kevinzh0C/fechatter-core/internal/notify"
	"github.com/Kevinzh0C/fechatter-core/pkg/eventbus"
	"github.com/Kevinzh0C/fechatter-core/pkg/wshub"
)

func main() {
	cfg, err := config.Load("notifier")
	if err != nil {
		panic(err)
	}
	log := logging.New("notifier", cfg.Observability.LogLevel)
	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dsnFromConfig(cfg.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("notifier: connect to database")
	}
	defer pool.Close()

	transport, err := eventbus.NewNATSTransport(eventbus.DefaultNATSConfig(cfg.Messaging.BrokerURL), log)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier: connect to event transport")
	}
	defer transport.Close()

	auditLogger := audit.New(cfg.Audit, log)
	defer auditLogger.Stop(context.Background())

	hub := wshub.NewHub(log)
	dispatcher := buildDispatcher(cfg, pool, hub, log, reg, auditLogger)

	startNotificationConsumer(ctx, transport, dispatcher, reg, log)

	runHealthAndMetrics(ctx, cfg, log)
}

func dsnFromConfig(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

func buildDispatcher(cfg *config.Config, pool *pgxpool.Pool, hub *wshub.Hub, log zerolog.Logger, reg *metrics.Registry, auditLogger *audit.Logger) *notify.Dispatcher {
	realtime := notify.NewRealtimeChannel(hub, log)
	persistent := notify.NewPersistentChannel(notify.NewPGStore(pool))
	directory := notify.NewPGUserDirectory(pool)
	email := notify.NewEmailChannel(cfg.Email, directory, cfg.Upstream.Host, log)
	push := notify.NewPushChannel()

	d := notify.NewDispatcher(realtime, persistent, email, push)
	d.OnAllChannelsFailed = func(n notify.Notification, results []notify.Result) {
		reg.OperationTotal.WithLabelValues("notification_dispatch").Inc()
		reg.OperationPartial.WithLabelValues("notification_dispatch").Inc()
		auditLogger.NotificationAlarm(n.UserID, string(n.Type), len(results))
	}
	d.OnChannelResult = func(n notify.Notification, r notify.Result) {
		reg.OperationTotal.WithLabelValues("notification_dispatch").Inc()
		if r.Err != nil {
			reg.OperationPartial.WithLabelValues("notification_dispatch").Inc()
		}
	}
	return d
}

// startNotificationConsumer subscribes to the Message domain stream and
// derives notifications from mentions and direct-message delivery
// (spec.md §4.8's trigger list; invite notifications are raised directly
// by the out-of-scope chat-membership REST boundary, not from this
// stream).
func startNotificationConsumer(ctx context.Context, transport eventbus.Transport, dispatcher *notify.Dispatcher, reg *metrics.Registry, log zerolog.Logger) {
	cfg := eventbus.DomainConsumerConfig("notifier")
	_, err := transport.Subscribe(ctx, eventbus.DomainSubjectMessage, &cfg, func(m eventbus.Message) {
		evt, err := events.DecodeDomainEvent(m.Data)
		if err != nil || evt.Message == nil || evt.Message.Operation != "created" {
			if m.Ack != nil {
				_ = m.Ack()
			}
			return
		}
		notifyFromMessage(ctx, dispatcher, *evt.Message, log)
		if m.Ack != nil {
			_ = m.Ack()
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("notifier: subscribe for message domain events failed")
	}
}

func notifyFromMessage(ctx context.Context, dispatcher *notify.Dispatcher, payload events.MessagePayload, log zerolog.Logger) {
	for _, userID := range payload.Mentions {
		if userID == payload.SenderID {
			continue
		}
		dispatcher.Notify(ctx, notify.Notification{
			UserID:   userID,
			Type:     notify.TypeMention,
			Title:    payload.SenderName + " mentioned you",
			Message:  payload.Content,
			ChatID:   &payload.ChatID,
			SenderID: &payload.SenderID,
		})
	}

	// A two-member chat with no distinct mentions is treated as a direct
	// message: spec.md §4.8 routes Mention and DirectMessage to the same
	// channel set, so the only consequence of this heuristic is which
	// Type label the notification carries.
	if len(payload.Members) == 2 && len(payload.Mentions) == 0 {
		for _, userID := range payload.Members {
			if userID == payload.SenderID {
				continue
			}
			dispatcher.Notify(ctx, notify.Notification{
				UserID:   userID,
				Type:     notify.TypeDirectMessage,
				Title:    payload.SenderName + " sent you a message",
				Message:  payload.Content,
				ChatID:   &payload.ChatID,
				SenderID: &payload.SenderID,
			})
		}
	}
}

func runHealthAndMetrics(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Observability.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())

	srv := &http.Server{Addr: portAddr(cfg.Observability.Metrics.Port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("notifier: health/metrics server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func portAddr(port int) string {
	if port == 0 {
		port = 9090
	}
	return fmt.Sprintf(":%d", port)
}
