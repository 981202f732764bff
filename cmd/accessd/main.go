package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"

	"access_grant_service/internal/app"
	"access_grant_service/internal/app/constraint"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/mail"
	"access_grant_service/internal/domain/push"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
	"access_grant_service/internal/infra/config"
	idb "access_grant_service/internal/infra/database"
	"access_grant_service/internal/infra/i18n"
	"access_grant_service/internal/infra/logger"
	"access_grant_service/internal/infra/membership"
	"access_grant_service/internal/infra/metrics"
	"access_grant_service/internal/infra/mq"
	"access_grant_service/internal/infra/scheduler"
	"access_grant_service/internal/infra/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"locale":      cfg.Locale,
		"kafka":       len(cfg.KafkaBrokers) > 0,
		"telegram":    cfg.TelegramToken != "",
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		mainLogger.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.ApplySchema(ctx, db); err != nil {
		mainLogger.Fatalf("Could not apply database schema: %v", err)
	}
	mainLogger.Info("Database connection established successfully.")

	clk := clock.Real()
	grantRepo := idb.NewPostgresGrantRepository(db)
	campaignRepo := idb.NewPostgresCampaignRepository(db)
	userRepo := idb.NewPostgresUserRepository(db)

	catalog, err := i18n.LoadEmbedded()
	if err != nil {
		mainLogger.Fatalf("Could not load message catalogs: %v", err)
	}
	if !catalog.HasLocale(cfg.Locale) {
		mainLogger.Warnf("No catalog for locale %s, falling back to %s", cfg.Locale, i18n.BaseLocale)
	}

	registry, err := constraint.NewDefaultRegistry()
	if err != nil {
		mainLogger.Fatalf("Could not build constraint registry: %v", err)
	}
	validateCampaigns(ctx, campaignRepo, registry, mainLogger)

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		mailer  mail.Mailer          = mq.LogMailer{Logger: logger.Component("mailer")}
		events  grant.EventPublisher = grant.NopPublisher{}
		closers []func() error
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaMailer := mq.NewKafkaMailer(mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaMailTopic))
		eventPublisher := mq.NewKafkaEventPublisher(mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaEventTopic))
		mailer, events = kafkaMailer, eventPublisher
		closers = append(closers, kafkaMailer.Close, eventPublisher.Close)
	}

	var bot *telebot.Bot
	var pusher push.Publisher = push.Disabled{Reason: "SEND_NOTIFICATIONS is off"}
	if cfg.TelegramToken != "" {
		telebotLogger := logger.Component("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := telebotLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.Fatalf("Could not create Telegram bot: %v", err)
		}
		if cfg.SendNotifications {
			pusher = telegram.NewTelebotAdapter(bot)
		}
	}

	grantService := app.NewGrantService(app.GrantServiceDeps{
		Grants:        grantRepo,
		Campaigns:     campaignRepo,
		Users:         userRepo,
		Roles:         membership.NewPostgresRoleService(db, user.RoleMember, clk, logger.Log.WithField("component", "membership")),
		Mailer:        mailer,
		Push:          pusher,
		Events:        events,
		Evaluator:     constraint.NewEvaluator(registry, grantRepo, logger.Component("constraints")),
		Translator:    catalog.Localizer(cfg.Locale),
		Clock:         clk,
		ElevatedRoles: cfg.ElevatedRoles,
		Metrics:       m,
		Logger:        logger.Log.WithField("service", "access"),
	})
	queries := app.NewGrantQueries(grantRepo, clk)
	sweeps := app.NewSweepService(grantService, queries, campaignRepo, cfg.SweepConcurrency, m, logger.Log.WithField("service", "access"))

	sweepScheduler := scheduler.NewSweepScheduler(sweeps, logger.Log.WithField("service", "access"), scheduler.Specs{
		Expire:   cfg.CronSpecExpire,
		Revoked:  cfg.CronSpecRevoked,
		Match:    cfg.CronSpecMatch,
		Followup: cfg.CronSpecFollowup,
	})
	if err := sweepScheduler.Start(); err != nil {
		mainLogger.Fatalf("Could not start scheduler: %v", err)
	}

	var signups *mq.SignupConsumer
	if len(cfg.KafkaBrokers) > 0 {
		signups = mq.NewSignupConsumer(mq.NewReader(cfg.KafkaBrokers, cfg.KafkaSignupTopic, cfg.KafkaSignupGroup), grantService, logger.Log.WithField("service", "access"))
		signups.Start(ctx)
	}

	if bot != nil {
		handlerLogger := logger.Component("telegram")
		adminService := app.NewAdminService(grantService, queries, userRepo, cfg.AdminTelegramID, cfg.AdminUserID)
		telegram.RegisterBotCommands(ctx, bot, cfg, userRepo, handlerLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.AdminTelegramID, clk, handlerLogger)
		telegram.RegisterUserHandlers(ctx, bot, grantService, queries, userRepo, catalog.Localizer(cfg.Locale), clk, handlerLogger)
		go bot.Start()
		mainLogger.Info("Telegram bot started.")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthz(db))
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		mainLogger.WithError(err).Error("HTTP server stopped with error")
	}

	mainLogger.Info("Shutting down application...")
	stop()
	if bot != nil {
		bot.Stop()
	}
	sweepScheduler.Stop()
	if signups != nil {
		if err := signups.Stop(); err != nil {
			mainLogger.WithError(err).Warn("Closing signup consumer failed")
		}
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			mainLogger.WithError(err).Warn("Closing Kafka writer failed")
		}
	}
	mainLogger.Info("Application shut down gracefully.")
}

func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// validateCampaigns warns about campaigns without a grant period or naming
// constraints that are not registered. Grants in such campaigns fail until
// the campaign is fixed.
func validateCampaigns(ctx context.Context, repo *idb.PostgresCampaignRepository, registry *constraint.Registry, log *logrus.Entry) {
	campaigns, err := repo.List(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not list campaigns for validation")
		return
	}
	for _, c := range campaigns {
		if err := registry.Validate(c); err != nil {
			log.WithError(err).WithField("campaign", c.Name).Warn("Campaign is misconfigured")
		}
	}
}
