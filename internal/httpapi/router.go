package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// webhook
	r.POST("/callback", h.Callback)

	// admin (JWT required), only when configured
	if h.Cfg.AdminEnabled() {
		r.POST("/admin/token", h.IssueToken)
		adminGroup := r.Group("/admin")
		adminGroup.Use(middleware.AuthRequired(h.Cfg.AdminJWTSecret))
		adminGroup.GET("/sessions/stats", h.SessionStats)
		adminGroup.DELETE("/sessions/:user_id", h.EvictSession)
		adminGroup.GET("/jobs/:job_id", h.GetJob)
	}
	return r
}
