// Command assistant runs the email calendar assistant: it polls the mailbox,
// classifies inbound messages, carries the booking dialogue, and serves the
// admin API on the configured port.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"github.com/otl-fi/email-assistant/internal/booking"
	"github.com/otl-fi/email-assistant/internal/config"
	"github.com/otl-fi/email-assistant/internal/engine"
	httpapi "github.com/otl-fi/email-assistant/internal/http"
	"github.com/otl-fi/email-assistant/internal/mail"
	"github.com/otl-fi/email-assistant/internal/observability"
	"github.com/otl-fi/email-assistant/internal/repo"
	"github.com/otl-fi/email-assistant/internal/services"
	"github.com/otl-fi/email-assistant/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Info().Str("version", version).Msg("starting email assistant")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database migration failed")
	}

	// Mailbox access via OAuth2 refresh token.
	oc := &oauth2.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.Gmail.RefreshToken})
	gmail := mail.NewGmailClient(ctx, ts, cfg.Gmail.Address)

	cal := booking.NewCalClient(cfg.Cal.APIKey, cfg.Cal.Username, cfg.Cal.EventTypeSlug)
	cal.DaysToCheck = cfg.Cal.DaysToCheck
	cal.Timezone = cfg.Timezone

	eng, err := engine.NewGemini(ctx, cfg.Engine.APIKey, cfg.Engine.Model, cfg.Engine.RPS)
	if err != nil {
		log.Fatal().Err(err).Msg("model client init failed")
	}
	eng.CallTimeout = cfg.Engine.CallTimeout
	eng.BookingURL = cal.BookingURL()
	eng.Timezone = cfg.Timezone

	machine := services.NewMachine(services.Policy{
		MaxCustomerTurns:  cfg.Policy.MaxCustomerTurns,
		MaxBookingRetries: cfg.Policy.MaxBookingRetries,
		TerminalCooldown:  cfg.Policy.TerminalCooldown,
		BookingURL:        cal.BookingURL(),
		Location:          loc,
	})
	svc := services.NewConversationService(db, eng, cal, machine)
	svc.Avail = cal

	orc := services.NewOrchestrator(gmail, gmail, svc)
	orc.Interval = cfg.PollInterval

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := orc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(c)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("assistant exited with error")
	}
	log.Info().Msg("assistant stopped")
}
