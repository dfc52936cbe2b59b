package handlers

import (
	"imovia/internal/app"
	"imovia/internal/http/middleware"

	"github.com/labstack/echo/v4"
)

// SetupRoutes sets up all API routes
func SetupRoutes(api *echo.Group, services *app.Services, wsHandler *WebSocketHandler) {
	// Webhook routes (signature-verified, no JWT)
	api.GET("/webhook", services.WebhookHandler.VerifyChallenge)
	api.POST("/webhook", services.WebhookHandler.Receive)

	// Auth routes (no authentication required)
	authHandler := NewAuthHandler(services.AuthService)
	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.RefreshToken)

	// WebSocket authenticates via query token inside the handler
	api.GET("/ws", wsHandler.Handle)

	// Protected routes (require authentication)
	protected := api.Group("")
	protected.Use(middleware.JWTAuth(services.AuthService))

	profileAuth := protected.Group("/auth")
	profileAuth.PUT("/profile", authHandler.UpdateProfile)
	profileAuth.PUT("/change-password", authHandler.ChangePassword)

	// Conversations
	conversationHandler := NewConversationHandler(
		services.ConversationRepo, services.UserRepo, services.ConversationEngine, wsHandler)
	conversations := protected.Group("/conversations")
	conversations.GET("", conversationHandler.List)
	conversations.GET("/:id", conversationHandler.GetByID)
	conversations.POST("/:id/takeover", conversationHandler.Takeover)
	conversations.POST("/:id/messages", conversationHandler.SendMessage)
	conversations.POST("/:id/close", conversationHandler.Close)
	conversations.DELETE("/:id", conversationHandler.Delete, middleware.AdminOnly())

	// Scheduling
	scheduleHandler := NewScheduleHandler(services.SchedulingEngine, services.SchedulingRepo)
	schedule := protected.Group("/schedule")
	schedule.POST("/availability", scheduleHandler.SetAvailability)
	schedule.GET("/availability", scheduleHandler.GetAvailability)
	schedule.GET("/slots", scheduleHandler.GetSlots)
	schedule.POST("/book", scheduleHandler.Book)
	schedule.PUT("/reschedule/:id", scheduleHandler.Reschedule)
	schedule.DELETE("/cancel/:id", scheduleHandler.Cancel)
	schedule.GET("/viewings", scheduleHandler.ListViewings)
	schedule.GET("/viewings/:id", scheduleHandler.GetViewing)
	schedule.POST("/properties", scheduleHandler.CreateProperty)
	schedule.GET("/properties", scheduleHandler.ListProperties)

	// Queue administration
	queueHandler := NewQueueHandler(services.QueueRepo)
	queueGroup := protected.Group("/queue", middleware.AdminOnly())
	queueGroup.GET("/depth", queueHandler.Depth)
	queueGroup.GET("/dead-letters", queueHandler.ListDeadLetters)
	queueGroup.POST("/dead-letters/:id/retry", queueHandler.RetryDeadLetter)
}
