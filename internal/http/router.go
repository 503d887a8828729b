// Package httpapi wires the admin HTTP transport (Gin) to the conversation
// store, middleware, and route handlers. The assistant's real work happens in
// the mailbox polling loop; this surface only exposes health, metrics, and
// read-only conversation inspection for operators.
//
// Middleware order: RequestID → Logger → Recovery → Metrics, so panics and
// errors are logged with the correlation ID and every request is measured.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/otl-fi/email-assistant/internal/http/handlers"
	"github.com/otl-fi/email-assistant/internal/http/middleware"
)

// RegisterRoutes attaches middleware and the admin endpoints to the given
// Gin engine.
func RegisterRoutes(r *gin.Engine, db *gorm.DB) {
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(db)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/conversations", h.ListConversations)
		v1.GET("/conversations/:id", h.GetConversation)
	}
}
