package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aiverse/internal/common"
	"github.com/suPer8Hu/aiverse/internal/config"
	"github.com/suPer8Hu/aiverse/internal/httpapi/handlers"
	"github.com/suPer8Hu/aiverse/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	if cfg.CORSOrigin != "" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{cfg.CORSOrigin},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	requireAuth := middleware.AuthRequired(cfg.JWTSecret)

	// users
	user := r.Group("/user")
	user.POST("/send-code", h.SendCode)
	user.POST("/verify-code", h.VerifyCode)
	user.POST("/register", h.Register)
	user.POST("/login", h.Login)
	user.POST("/logout", h.Logout)
	user.GET("/me", requireAuth, h.Me)

	// Chat (JWT required)
	chatGroup := r.Group("/chat")
	chatGroup.Use(requireAuth)
	chatGroup.POST("/sessions", h.CreateChatSession)
	// :id is the owner id on the list route and the chat id on the title route
	chatGroup.GET("/sessions/:id", h.ListChatSessions)
	chatGroup.PUT("/sessions/:id/title", h.RefreshChatTitle)
	chatGroup.GET("/session/:chatId", h.GetChatSession)
	chatGroup.DELETE("/session/:chatId", h.DeleteChatSession)
	chatGroup.POST("/message", h.SendChatMessage)
	chatGroup.GET("/history/:chatId", h.ChatHistory)
	return r
}
