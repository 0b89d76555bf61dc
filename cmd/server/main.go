package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-core/internal/auth"
	"chat-core/internal/broker"
	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/handlers"
	"chat-core/internal/hub"
	"chat-core/internal/presence"
	"chat-core/internal/storage"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize object storage
	objects, err := storage.NewFileStorage(cfg.Storage.Dir, cfg.Server.BaseURL)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}

	// Initialize fan-out and services
	hubManager := hub.NewManager()
	authService := auth.NewService(db, cfg)
	msgStore := store.NewService(db, hubManager, objects)
	tracker := presence.NewTracker(db, hubManager, cfg.Presence)
	reqBroker := broker.NewService(db, hubManager, msgStore, cfg.Broker.ResolvedTTL)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go tracker.Run(ctx)

	// The general room always exists.
	if _, err := msgStore.EnsureRoom(ctx, store.GeneralRoom); err != nil {
		logger.Fatal("Failed to provision general room: %v", err)
	}

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService, tracker, objects)
	presenceHandlers := handlers.NewPresenceHandlers(authService, tracker)
	messageHandlers := handlers.NewMessageHandlers(authService, msgStore)
	requestHandlers := handlers.NewRequestHandlers(authService, reqBroker, msgStore)
	wsHandlers := handlers.NewWebSocketHandlers(authService, msgStore, reqBroker, tracker, hubManager)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, presenceHandlers, messageHandlers, requestHandlers, wsHandlers, objects)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

func openDatabase(cfg *config.Config) (database.Database, error) {
	if cfg.Database.Driver == "memory" {
		logger.Info("Using in-memory store")
		return database.NewMemoryDB(), nil
	}
	return database.NewPostgresDB(cfg.Database.URL)
}

func setupRoutes(
	mux *http.ServeMux,
	authHandlers *handlers.AuthHandlers,
	presenceHandlers *handlers.PresenceHandlers,
	messageHandlers *handlers.MessageHandlers,
	requestHandlers *handlers.RequestHandlers,
	wsHandlers *handlers.WebSocketHandlers,
	objects *storage.FileStorage,
) {
	// Auth routes
	mux.HandleFunc("POST /register", authHandlers.Register)
	mux.HandleFunc("POST /login", authHandlers.Login)
	mux.HandleFunc("POST /logout", authHandlers.Logout)
	mux.HandleFunc("GET /me", authHandlers.Me)
	mux.HandleFunc("PUT /profile", authHandlers.UpdateProfile)
	mux.HandleFunc("POST /profile/avatar", authHandlers.UploadAvatar)

	// Presence routes
	mux.HandleFunc("POST /presence/heartbeat", presenceHandlers.Heartbeat)
	mux.HandleFunc("POST /presence/intent", presenceHandlers.Intent)

	// Conversation routes
	mux.HandleFunc("POST /conversations/{id}/messages", messageHandlers.SendMessage)
	mux.HandleFunc("POST /conversations/{id}/window", messageHandlers.SetWindow)
	mux.HandleFunc("POST /threads", messageHandlers.OpenThread)

	// Request and notification routes
	mux.HandleFunc("POST /requests", requestHandlers.SendRequest)
	mux.HandleFunc("POST /requests/{id}/respond", requestHandlers.Respond)
	mux.HandleFunc("POST /chats/close", requestHandlers.CloseChat)
	mux.HandleFunc("POST /notifications/{id}/read", requestHandlers.MarkRead)

	// Subscriptions and uploaded files
	mux.HandleFunc("GET /ws", wsHandlers.Subscribe)
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(objects.Root()))))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
