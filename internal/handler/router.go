package handler

import (
	"guptaai/internal/config"
	"guptaai/internal/middleware"
	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/pkg/token"

	"github.com/gin-gonic/gin"
)

// Dependencies 汇总注册路由所需的服务。
type Dependencies struct {
	UserService    service.UserService
	HistoryService service.HistoryService
	TabService     service.TabService
	ChatService    service.ChatService
	OCRService     service.OCRService
	PersonaService service.PersonaService
	JWTManager     *token.JWTManager
	Blacklist      repository.TokenBlacklistRepository
	LLMConfig      config.LLMConfig
	ChatConfig     config.ChatConfig
	MaxUploadBytes int64
}

// RegisterRoutes 在 r 上注册所有 HTTP 与 WebSocket 路由。
func RegisterRoutes(r gin.IRouter, d Dependencies) {
	authHandler := NewAuthHandler(d.UserService)
	historyHandler := NewHistoryHandler(d.HistoryService, d.TabService)
	ocrHandler := NewOCRHandler(d.OCRService, d.MaxUploadBytes)
	catalogHandler := NewCatalogHandler(d.PersonaService, d.LLMConfig, d.ChatConfig)
	chatHandler := NewChatHandler(d.TabService, d.ChatService, d.JWTManager, d.Blacklist, d.MaxUploadBytes)

	requireUser := middleware.AuthMiddleware(d.JWTManager, d.Blacklist, d.UserService)
	optionalUser := middleware.OptionalAuth(d.JWTManager, d.Blacklist)

	api := r.Group("/api")
	{
		api.GET("/ping", Ping)

		// 无需认证的路由
		api.POST("/signup", authHandler.Signup)
		api.POST("/login", authHandler.Login)
		api.POST("/auth/refresh", authHandler.RefreshToken)

		// 需要认证的路由
		api.POST("/logout", requireUser, authHandler.Logout)
		api.GET("/me", requireUser, authHandler.Me)

		history := api.Group("/history")
		history.Use(optionalUser)
		{
			history.GET("", historyHandler.GetHistory)
			history.POST("", historyHandler.SaveHistory)
			history.DELETE("", historyHandler.DeleteHistory)
		}

		api.POST("/ocr", ocrHandler.Recognize)
		api.POST("/ocr-log", ocrHandler.Log)

		api.GET("/models", catalogHandler.ListModels)
		api.GET("/personas", catalogHandler.ListPersonas)
		api.POST("/tabs", chatHandler.NewSession)

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := api.Group("/admin")
		admin.Use(requireUser, middleware.AdminAuthMiddleware())
		{
			admin.PUT("/persona", catalogHandler.UpdatePersona)
		}
	}

	r.GET("/chat/ws", chatHandler.Handle)
}
