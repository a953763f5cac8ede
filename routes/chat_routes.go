package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/halverson-labs/bookline-chat/handlers"
	"github.com/halverson-labs/bookline-chat/middleware"
)

func ChatRoutes(app *fiber.App, h *handlers.ChatHandler, jwtSecret string) {
	api := app.Group("/api/v1")

	chat := api.Group("/chat", middleware.Protected(jwtSecret))
	chat.Get("/conversations", h.GetConversations)
	chat.Get("/appointments/:appointmentId/messages", h.GetAppointmentMessages)
	chat.Get("/unread-counts", h.GetUnreadCounts)
	chat.Post("/unread-counts/reset", h.ResetAllUnreadCounts)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/ws", websocket.New(h.ServeWs))
}
