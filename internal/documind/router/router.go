// Package router wires the QA service HTTP routes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/documind-io/documind/internal/documind/handler"
)

// New builds the gin engine with all QA service routes registered.
func New(mode string, qaHandler *handler.QAHandler) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/v1")
	{
		v1.POST("/ask", qaHandler.Ask)
		v1.POST("/search", qaHandler.Search)
		v1.POST("/documents", qaHandler.Ingest)
		v1.GET("/answers/:id", qaHandler.GetAnswer)
		v1.GET("/stats", qaHandler.Stats)
	}

	logger.Info("HTTP routes registered")
	return engine
}
