package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"firesync/internal/config"
	"firesync/internal/core"
	"firesync/internal/middleware"
	"firesync/internal/models"
)

// SetupRoutes configures all the application routes with their handlers and middleware.
// Global middleware (logging, recovery, CORS) is expected on router already.
func SetupRoutes(
	router *gin.Engine,
	appConfig *config.Config,
	logger *zap.Logger,
	notes *core.Registry[models.Note],
	verifier middleware.TokenVerifier,
) {
	var identify gin.HandlerFunc
	if appConfig.AuthDisabled {
		logger.Warn("Token verification is disabled; the X-User-ID header is trusted")
		identify = middleware.DevIdentity()
	} else {
		identify = middleware.NewAuthMiddleware(verifier, logger).VerifyToken()
	}

	noteHandler := NewNoteHandler(logger)
	streamHandler := NewStreamHandler(logger)

	apiV1 := router.Group("/api/v1", identify, BindNotes(notes))
	{
		notesGroup := apiV1.Group("/notes")
		{
			notesGroup.GET("", noteHandler.ListNotes)
			notesGroup.POST("", noteHandler.CreateNote)
			notesGroup.GET("/:noteId", noteHandler.GetNote)
			notesGroup.PUT("/:noteId", noteHandler.PutNote)
			notesGroup.PATCH("/:noteId", noteHandler.PatchNote)
			notesGroup.DELETE("/:noteId", noteHandler.DeleteNote)
		}

		streamsGroup := apiV1.Group("/streams")
		{
			streamsGroup.GET("/notes", streamHandler.StreamUpdates)
			streamsGroup.GET("/notes/:noteId", streamHandler.StreamNote)
			streamsGroup.GET("/snapshots", streamHandler.StreamSnapshots)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "backend": appConfig.Backend})
	})

	logger.Info("API routes configured under /api/v1 and /health")
}
