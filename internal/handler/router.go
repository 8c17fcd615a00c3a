package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfchat/internal/middleware"
)

// ChatStreamPath is excluded from response compression so fragments flush immediately.
const ChatStreamPath = "/api/chat/stream"

type RouterDeps struct {
	PDF           *PDFHandler
	Model         *ModelHandler
	Session       *SessionHandler
	Chat          *ChatHandler
	ChatRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.POST("/pdf/upload", deps.PDF.Upload)
	api.GET("/pdf/:id", deps.PDF.Get)
	api.DELETE("/pdf/:id", deps.PDF.Delete)

	api.POST("/model/configure", deps.Model.Configure)
	api.GET("/model/config", deps.Model.Config)
	api.POST("/model/upload-local", deps.Model.UploadLocal)

	api.POST("/session/create", deps.Session.Create)
	api.GET("/session/:id", deps.Session.Get)
	api.DELETE("/session/:id", deps.Session.Delete)
	api.DELETE("/session/:id/documents/:doc_id", deps.Session.DetachDocument)

	api.POST("/chat/stream", middleware.RateLimit(deps.ChatRateLimit), deps.Chat.Stream)
}
