package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/api"
	"github.com/caspian-yx/socket-chat-app/internal/config"
	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/filebridge"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/service"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	})))

	slog.Info("starting chat server",
		"addr", cfg.Addr(), "file_addr", cfg.FileAddr(), "ops_addr", cfg.OpsAddr())

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	users := db.NewUserRepository(database)
	sessions := db.NewSessionRepository(database)
	presence := db.NewPresenceRepository(database)
	messages := db.NewMessageRepository(database)
	rooms := db.NewRoomRepository(database)
	offline := db.NewOfflineQueueRepository(database)
	files := db.NewFileRepository(database)
	friends := db.NewFriendRepository(database)

	registry := server.NewRegistry()
	dispatcher := worker.NewOfflineDispatcher(registry, offline)
	bridge := filebridge.New(cfg.FileAddr(), cfg.Server.PublicHost, cfg.Server.FilePort)

	authService := service.NewAuthService(users, sessions, presence, registry, dispatcher, cfg.Server.SessionTTL)
	presenceService := service.NewPresenceService(presence, registry)
	messageService := service.NewMessageService(messages, rooms, dispatcher)
	roomService := service.NewRoomService(rooms)
	friendService := service.NewFriendService(friends, users, dispatcher)
	fileService := service.NewFileService(files, rooms, registry, bridge)
	voiceService := service.NewVoiceService(rooms, registry, dispatcher)

	authService.SetDisconnectTeardown(voiceService.HandleUserDisconnected)
	bridge.SetCallbacks(fileService.NotifyChannelComplete, fileService.NotifyChannelError)

	router := server.NewRouter()
	authService.RegisterHandlers(router)
	presenceService.RegisterHandlers(router)
	messageService.RegisterHandlers(router)
	roomService.RegisterHandlers(router)
	friendService.RegisterHandlers(router)
	fileService.RegisterHandlers(router)
	voiceService.RegisterHandlers(router)

	chatServer := server.New(cfg.Addr(), registry, router)
	chatServer.SetDisconnectHandler(authService.HandleDisconnect)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	cleaner := worker.NewPresenceCleaner(registry,
		cfg.Server.SessionTimeout, cfg.Server.PresenceScanInterval, authService.EvictIdle)
	sessionCleanup := db.NewCleanupService(sessions)
	go dispatcher.Start(workerCtx)
	go cleaner.Start(workerCtx)
	go sessionCleanup.Start(workerCtx)

	go func() {
		if err := bridge.ListenAndServe(workerCtx); err != nil {
			slog.Error("data channel failed", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		if err := chatServer.ListenAndServe(workerCtx); err != nil {
			slog.Error("control channel failed", "error", err)
			os.Exit(1)
		}
	}()

	var opsServer *http.Server
	if cfg.Ops.Enabled {
		opsServer = &http.Server{
			Addr:    cfg.OpsAddr(),
			Handler: api.NewServer(database, registry, users, messages, rooms),
		}
		go func() {
			slog.Info("ops server listening", "addr", cfg.OpsAddr())
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("ops server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	workerCancel()
	chatServer.Shutdown()
	bridge.Shutdown()

	if opsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(ctx); err != nil {
			slog.Error("ops server shutdown error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func logLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
