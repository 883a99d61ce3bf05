package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/library-chat/backend/internal/adapter/catalog"
	"github.com/zhouzirui/library-chat/backend/internal/adapter/reservation"
	"github.com/zhouzirui/library-chat/backend/internal/adapter/springshare"
	"github.com/zhouzirui/library-chat/backend/internal/adapter/ticket"
	"github.com/zhouzirui/library-chat/backend/internal/config"
	"github.com/zhouzirui/library-chat/backend/internal/handler"
	"github.com/zhouzirui/library-chat/backend/internal/handler/socket"
	"github.com/zhouzirui/library-chat/backend/internal/logging"
	"github.com/zhouzirui/library-chat/backend/internal/service/ai"
	"github.com/zhouzirui/library-chat/backend/internal/service/chat"
	"github.com/zhouzirui/library-chat/backend/internal/service/dispatch"
	"github.com/zhouzirui/library-chat/backend/internal/service/tools"
)

const userAgent = "LibraryChat/1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log, "library-chat")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	chatService := chat.NewService()
	registry := tools.NewRegistry()
	features := handler.Features{}

	if cfg.Catalog.Enabled() {
		catalogClient := catalog.NewClient(catalog.Options{
			BaseURL: cfg.Catalog.BaseURL,
			APIKey:  cfg.Catalog.APIKey,
			View:    cfg.Catalog.View,
			Tab:     cfg.Catalog.Tab,
			Scope:   cfg.Catalog.Scope,
			Timeout: cfg.Catalog.Timeout,
		})
		mustRegister(registry, tools.SearchCatalog{Searcher: catalogClient})
		features.Catalog = true
	} else {
		logger.Info().Msg("catalogue search not configured, skipping")
	}

	if cfg.Reservation.Enabled() {
		httpClient := springshare.NewClient(ctx, cfg.Reservation.BaseURL, cfg.Reservation.OAuth(), cfg.Reservation.Timeout, userAgent)
		mustRegister(registry, tools.CancelReservation{Canceller: reservation.NewClient(httpClient)})
		features.Reservation = true
	} else {
		logger.Info().Msg("reservation system not configured, skipping")
	}

	var tickets dispatch.TicketCreator
	if cfg.Ticket.Enabled() {
		httpClient := springshare.NewClient(ctx, cfg.Ticket.BaseURL, cfg.Ticket.OAuth(), cfg.Ticket.Timeout, userAgent)
		tickets = ticket.NewClient(httpClient, cfg.Ticket.QueueID)
		features.Tickets = true
	} else {
		logger.Info().Msg("ticketing not configured, escalations will be rejected")
	}

	// Initialize AI service
	var responder dispatch.Responder
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, registry.Specs())
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize AI service, continuing without it")
		} else {
			responder = aiService
			features.Assistant = true
			logger.Info().Int("tools", len(registry.Specs())).Msg("AI service initialized")
		}
	} else {
		logger.Info().Msg("Ark credentials not configured, skipping AI initialization")
	}

	dispatcher := dispatch.New(dispatch.Options{
		Transcript: chatService,
		Responder:  responder,
		Tools:      registry,
		Tickets:    tickets,
	})

	sockets := socket.New(chatService, dispatcher, socket.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
		ReadTimeout:    cfg.Server.ReadTimeout,
	})

	go pruneSessions(ctx, chatService, cfg.Server.SessionRetention)

	router := handler.NewRouter(logger, chatService, sockets, features)

	startServer(ctx, logger, cfg.Server, router, sockets)
}

func mustRegister(registry *tools.Registry, tool tools.Tool) {
	if err := registry.Register(tool); err != nil {
		log.Fatal().Err(err).Msg("failed to register tool")
	}
}

func pruneSessions(ctx context.Context, chatService *chat.Service, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := chatService.PruneClosed(now.Add(-retention)); n > 0 {
				log.Debug().Int("sessions", n).Msg("pruned closed sessions")
			}
		}
	}
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler, sockets *socket.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Hijacked websocket connections are not tracked by http.Server.
	srv.RegisterOnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		sockets.Shutdown(shutdownCtx)
	})

	logger.Info().Str("addr", addr).Msg("library chat backend listening")
	if err := runServer(ctx, srv, serverCfg.ShutdownTimeout); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
