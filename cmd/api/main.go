package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/aiverse/internal/ai"
	"github.com/suPer8Hu/aiverse/internal/chat"
	"github.com/suPer8Hu/aiverse/internal/config"
	"github.com/suPer8Hu/aiverse/internal/db"
	"github.com/suPer8Hu/aiverse/internal/email"
	"github.com/suPer8Hu/aiverse/internal/httpapi"
	"github.com/suPer8Hu/aiverse/internal/httpapi/handlers"
	"github.com/suPer8Hu/aiverse/internal/logging"
	"github.com/suPer8Hu/aiverse/internal/models"
	"github.com/suPer8Hu/aiverse/internal/store/rabbitmq"
	"github.com/suPer8Hu/aiverse/internal/store/redisstore"
	"github.com/suPer8Hu/aiverse/internal/users"
	"golang.org/x/sync/errgroup"
)

func providerRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required")
		}
		p, err := ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return reg
}

func providerModel(cfg config.Config) string {
	switch cfg.AIProvider {
	case "ollama":
		return cfg.OllamaModel
	case "openrouter":
		return cfg.OpenRouterModel
	default:
		return cfg.GeminiModel
	}
}

// mailSender queues mail when RabbitMQ is configured, sends it inline when
// only SMTP is, and logs it otherwise.
func mailSender(cfg config.Config) (email.Sender, func(), error) {
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbit publisher: %w", err)
		}
		log.Info().Str("queue", cfg.RabbitQueue).Msg("mail is queued for the worker")
		return pub, func() { _ = pub.Close() }, nil
	}
	if cfg.SMTPHost != "" {
		return email.NewSMTPSender(smtpConfig(cfg)), func() {}, nil
	}
	log.Warn().Msg("SMTP_HOST and RABBIT_URL unset, verification mail is only logged")
	return email.LogSender{}, func() {}, nil
}

func smtpConfig(cfg config.Config) email.SMTPConfig {
	return email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb, &models.User{}, &chat.Session{}); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
	}
	defer rds.Close()

	reg := providerRegistry(cfg)
	provider, err := reg.Get(ctx, cfg.AIProvider, providerModel(cfg))
	if err != nil {
		log.Fatal().Err(err).
			Str("provider", cfg.AIProvider).
			Str("available", strings.Join(reg.Names(), ",")).
			Msg("ai provider")
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	sender, closeSender, err := mailSender(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("mail sender")
	}
	defer closeSender()

	chatSvc := chat.NewService(chat.NewRepo(gdb), provider, rds.Locker(), chat.Options{
		ContextWindow: cfg.ChatContextWindowSize,
		ReplyTimeout:  cfg.ChatReplyTimeout,
		TitleTimeout:  cfg.ChatTitleTimeout,
		LockTTL:       cfg.ChatLockTTL,
		LockWait:      cfg.ChatLockWait,
	})
	userSvc := users.NewService(users.NewRepo(gdb), rds, sender, cfg.JWTSecret)

	r := httpapi.NewRouter(cfg, handlers.NewHandler(cfg, chatSvc, userSvc))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a send may wait for the session lock, then a reply and a title call
		WriteTimeout: cfg.ChatLockWait + cfg.ChatReplyTimeout + cfg.ChatTitleTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("provider", cfg.AIProvider).Msg("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server shutdown complete")
}
