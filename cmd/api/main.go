package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/halverson-labs/bookline-chat/chat"
	config "github.com/halverson-labs/bookline-chat/configs"
	"github.com/halverson-labs/bookline-chat/database"
	"github.com/halverson-labs/bookline-chat/handlers"
	"github.com/halverson-labs/bookline-chat/jobs"
	"github.com/halverson-labs/bookline-chat/routes"
	"github.com/halverson-labs/bookline-chat/websocket"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("🔥 Failed to load configuration: %v", err)
	}

	database.ConnectDB(cfg)
	database.Migrate()
	database.SeedAdmin(cfg)

	c := cron.New()
	c.AddFunc("*/5 * * * *", jobs.ReportChatInconsistencies)
	go c.Start()
	log.Println("✅ Cron job for chat consistency reports scheduled successfully.")

	directory := chat.NewAppointmentDirectory(database.DB)
	messages := chat.NewMessageStore(database.DB)
	conversations := chat.NewConversationStore(database.DB, directory)
	reconciler := chat.NewUnreadReconciler(messages, conversations)
	gateway := chat.NewGateway(messages, conversations)

	hub := websocket.NewHub()
	defer hub.Close()

	h := handlers.NewChatHandler(gateway, hub, messages, conversations, reconciler, cfg.JWTSecret)

	app := fiber.New(fiber.Config{
		Prefork:           false,
		AppName:           "Bookline Chat",
		CaseSensitive:     true,
		StrictRouting:     true,
		EnablePrintRoutes: true,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.ChatRoutes(app, h, cfg.JWTSecret)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	log.Printf("✅ Server is running on port %d", cfg.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
