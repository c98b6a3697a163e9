package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"firesync/internal/api"
	"firesync/internal/config"
	"firesync/internal/core"
	"firesync/internal/db"
	"firesync/internal/middleware"
	"firesync/internal/models"
)

func main() {
	// --- 1. Load .env outside release mode ---
	if !strings.EqualFold(os.Getenv("GIN_MODE"), gin.ReleaseMode) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: could not read .env: %v", err)
		}
	}

	// --- 2. Load Application Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	// --- 3. Initialize Logger (Zap) ---
	zapLogger, err := newLogger(appConfig)
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// --- 4. Initialize Firebase Admin SDK and the document backend ---
	initCtx, cancelInitCtx := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInitCtx()

	var clients *db.Clients
	if appConfig.UsesFirebase() {
		clients, err = db.InitFirebase(initCtx, appConfig, zapLogger)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firebase Admin SDK", zap.Error(err))
		}
		defer clients.Close()
	}

	var backend db.Backend
	switch appConfig.Backend {
	case config.BackendMemory:
		zapLogger.Warn("Using the in-memory backend; data is lost on exit")
		backend = db.NewMemoryBackend()
	default:
		backend = db.NewFirestoreBackend(clients.Firestore)
	}

	// --- 5. Initialize Adapters ---
	codec, err := noteCodec(appConfig)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize note codec", zap.Error(err))
	}
	notes := core.NewRegistry[models.Note](
		backend,
		api.UserNotesPath(appConfig.NotesCollection),
		codec,
		core.WithLogger(zapLogger.Named("notes")),
	)

	// --- 6. Setup Gin HTTP Engine ---
	if strings.EqualFold(appConfig.GinMode, gin.ReleaseMode) {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(appConfig))
	if appConfig.ClientURL == "" {
		zapLogger.Warn("CLIENT_URL is not configured; CORS allows every origin")
	}

	var verifier middleware.TokenVerifier
	if clients != nil && clients.Auth != nil {
		verifier = clients.Auth
	}
	api.SetupRoutes(router, appConfig, zapLogger, notes, verifier)

	// --- 7. Configure and Start HTTP Server ---
	// Streams use the server's base context, so shutdown ends them.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	zapLogger.Info("Starting HTTP server...",
		zap.String("address", serverAddr),
		zap.String("ginMode", gin.Mode()),
		zap.String("backend", appConfig.Backend))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 8. Graceful Shutdown Handling ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancelRoot()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exiting gracefully.")
}

func newLogger(appConfig *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(appConfig.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", appConfig.LogLevel, err)
	}
	zapConfig := zap.NewDevelopmentConfig()
	if strings.EqualFold(appConfig.GinMode, gin.ReleaseMode) {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

// noteCodec seals note bodies when ENCRYPTION_KEY is set.
func noteCodec(appConfig *config.Config) (core.Codec[models.Note], error) {
	tagged := core.NewTaggedCodec[models.Note]("id")
	key, err := appConfig.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return tagged, nil
	}
	return core.NewSealedCodec[models.Note](tagged, key, "body")
}
