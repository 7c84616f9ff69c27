package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/querybot/common/audit"
	"github.com/telhawk-systems/querybot/common/logging"
	"github.com/telhawk-systems/querybot/common/messaging"
	natsclient "github.com/telhawk-systems/querybot/common/messaging/nats"
	"github.com/telhawk-systems/querybot/querybot/internal/command"
	"github.com/telhawk-systems/querybot/querybot/internal/config"
	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/history"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
	"github.com/telhawk-systems/querybot/querybot/internal/relay"
	"github.com/telhawk-systems/querybot/querybot/internal/server"
	"github.com/telhawk-systems/querybot/querybot/internal/store"
	"github.com/telhawk-systems/querybot/querybot/internal/store/memory"
	"github.com/telhawk-systems/querybot/querybot/internal/store/opensearch"
	"github.com/telhawk-systems/querybot/querybot/internal/store/sqlstore"
	"github.com/telhawk-systems/querybot/querybot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("querybot"))
	logging.SetDefault(logger)

	slog.Info("Starting querybot", slog.String("config_path", cfg.Path()), slog.Any("config", cfg))

	if err := serve(ctx, cfg, logger.Logger); err != nil {
		slog.Error("querybot stopped with error", slog.String("error", err.Error()))
		return err
	}
	slog.Info("querybot stopped gracefully")
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	commands, err := cfg.CommandArgs()
	if err != nil {
		return err
	}
	runner := command.NewExecRunner(commands, cfg.Commands.Timeout).WithDir(cfg.Commands.Dir)

	var opts []server.Option
	var broker *natsclient.Client
	if cfg.NATS.Enabled {
		broker, err = natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "querybot",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer broker.Close()
		opts = append(opts, server.WithBroker(broker))
	}

	recorders := relay.Recorders{}
	if cfg.History.Enabled {
		repo, err := openHistory(ctx, cfg.History)
		if err != nil {
			return err
		}
		defer repo.Close()
		recorders = append(recorders, repo)
		opts = append(opts, server.WithHistory(repo), server.WithCheck("history", repo))
	}
	if broker != nil {
		recorders = append(recorders, relay.NewPublisher(broker))
	}

	exec := conversation.NewExecutor(st, runner, cfg.Bot.HistoryLookupModelProperty,
		conversation.WithRecorder(recorders),
		conversation.WithExecutorLogger(logger),
	)

	registry, err := cfg.Registry(logger)
	if err != nil {
		return err
	}

	bot, err := telegram.New(cfg.Bot.Token,
		telegram.WithLogger(logger),
		telegram.WithPollTimeout(cfg.Bot.PollTimeout),
		telegram.WithDebug(cfg.Bot.Debug),
	)
	if err != nil {
		return err
	}

	router, err := newRouter(registry, exec, bot, cfg.Bot.CommandsSuffix, logger)
	if err != nil {
		return err
	}
	slog.Info("Conversations ready",
		slog.String("bot", bot.Username()),
		slog.Any("commands", router.Commands()),
	)

	if cfg.Bot.MiddlewareEnabled {
		guard, release, err := newGuard(ctx, cfg, bot, broker, logger)
		if err != nil {
			return err
		}
		defer release()
		defer guard.Wait()
		opts = append(opts, server.WithGuard(guard))

		if broker != nil && cfg.NATS.Relay {
			h := relay.NewHandler(broker, bot, cfg.Bot.Middleware.ChatID, cfg.NATS.Subject, logger)
			if err := h.Start(); err != nil {
				return err
			}
			defer h.Stop()
		}
	}

	ops := server.New(router, append(opts, server.WithLogger(logger))...)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      ops.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.ListenAndServe(ctx, srv, shutdownTimeout)
	}()
	go func() {
		errCh <- bot.Run(ctx, router)
	}()

	// The first component to stop takes the other one down with it.
	err = <-errCh
	cancel()
	if second := <-errCh; err == nil {
		err = second
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openStore selects the record backend by driver name.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	tables := cfg.Tables()
	switch cfg.Store.Driver {
	case "memory":
		slog.Warn("Using in-memory store (development only)")
		return memory.New(), nil
	case "opensearch":
		slog.Info("Connecting to OpenSearch", slog.String("url", cfg.Store.OpenSearch.URL))
		return opensearch.Open(opensearch.Config{
			URL:      cfg.Store.OpenSearch.URL,
			Username: cfg.Store.OpenSearch.Username,
			Password: cfg.Store.OpenSearch.Password,
			Insecure: cfg.Store.OpenSearch.Insecure,
			MaxHits:  cfg.Store.OpenSearch.MaxHits,
		}, tables)
	default:
		dialect, err := sqlstore.DialectFor(cfg.Store.Driver)
		if err != nil {
			return nil, err
		}
		slog.Info("Opening SQL store", slog.String("dialect", dialect.Name))
		return sqlstore.Open(ctx, dialect, cfg.Store.DSN, tables)
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (*history.Repository, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("history is enabled but history.database_url is empty")
	}

	slog.Info("Running database migrations", slog.String("source", cfg.Migrations))
	if err := history.Migrate(cfg.Migrations, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	repo, err := history.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to history database")
	return repo, nil
}

// newRouter creates one machine per registered conversation.
func newRouter(registry *conversation.Registry, exec *conversation.Executor, sender conversation.Sender, suffix string, logger *slog.Logger) (*conversation.Router, error) {
	machines := make([]*conversation.Machine, 0, registry.Len())
	for _, conv := range registry.All() {
		m, err := conversation.NewMachine(conv, exec, sender,
			conversation.WithSuffix(suffix),
			conversation.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return conversation.NewRouter(sender, logger, machines...)
}

// newGuard assembles the notifier chain behind the response guard. The
// returned func releases the Redis connection.
func newGuard(ctx context.Context, cfg *config.Config, sender notify.TextSender, broker *natsclient.Client, logger *slog.Logger) (*notify.Guard, func(), error) {
	rules, err := cfg.Rules(notify.DefaultPredicates())
	if err != nil {
		return nil, nil, err
	}

	release := func() {}
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		release = func() { _ = rdb.Close() }
	}

	var publisher messaging.Publisher
	if broker != nil {
		publisher = broker
	}
	notifier := buildNotifier(cfg, sender, publisher, rdb, logger)

	guard := notify.NewGuard(rules, notifier,
		notify.WithPrefix(cfg.Bot.Middleware.MessagePrefix),
		notify.WithSendTimeout(cfg.Bot.Middleware.SendTimeout),
		notify.WithLogger(logger),
	)
	return guard, release, nil
}

// buildNotifier picks the primary delivery path, adds the webhook and wraps
// the result with Redis suppression. With a broker the chat is reached
// through the relay instead of directly.
func buildNotifier(cfg *config.Config, sender notify.TextSender, publisher messaging.Publisher, rdb *redis.Client, logger *slog.Logger) notify.Notifier {
	mw := cfg.Bot.Middleware

	var notifiers []notify.Notifier
	if publisher != nil {
		notifiers = append(notifiers, notify.NewNATSNotifier(publisher, cfg.NATS.Subject))
	} else {
		notifiers = append(notifiers, notify.NewChatNotifier(sender, mw.ChatID))
	}
	if mw.WebhookURL != "" {
		webhook := notify.NewWebhookNotifier(mw.WebhookURL, mw.SendTimeout)
		if mw.WebhookSecret != "" {
			webhook.SignWith(audit.NewSigner(mw.WebhookSecret))
		}
		notifiers = append(notifiers, webhook)
	}

	var n notify.Notifier = notifiers[0]
	if len(notifiers) > 1 {
		n = notify.NewMultiNotifier(notifiers...)
	}
	if rdb != nil {
		n = notify.NewSuppressor(rdb, cfg.Redis.SuppressionWindow, n, logger)
	}
	return n
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
