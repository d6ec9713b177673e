package routes

import (
	"log"
	"os"

	controller "wablast/controllers"
	"wablast/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
)

// SetupRoutes wires the campaign admin surface over the lifecycle manager.
func SetupRoutes(app *fiber.App, cc *controller.CampaignController) {
	campaignLogger := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	campaigns := app.Group("/campaigns", campaignLogger, middleware.Protected())
	campaigns.Post("/upload", cc.UploadSource)
	campaigns.Post("/", cc.CreateCampaign)
	campaigns.Get("/", cc.ListCampaigns)
	campaigns.Get("/:id", cc.GetCampaign)
	campaigns.Get("/:id/deliveries", cc.GetCampaignDeliveries)
	campaigns.Get("/:id/analytics", cc.GetCampaignAnalytics)
	campaigns.Post("/:id/start", middleware.StartCampaignRateLimiter(), cc.StartCampaign)
	campaigns.Post("/:id/pause", cc.PauseCampaign)
	campaigns.Post("/:id/stop", cc.StopCampaign)
	campaigns.Delete("/:id", cc.DeleteCampaign)

	scheduler := app.Group("/scheduler", middleware.Protected())
	scheduler.Get("/status", cc.SchedulerStatus)

	// WebSocket progress stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/campaigns/:id/progress", middleware.Protected(), websocket.New(controller.HandleCampaignProgressWS))

	if os.Getenv("ENVIRONMENT") == "development" {
		log.Println("Routes registered: /campaigns, /scheduler/status, /ws/campaigns/:id/progress")
	}
}
