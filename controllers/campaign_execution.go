package controller

import (
	"wablast/apperrors"
	"wablast/models"

	"github.com/gofiber/fiber/v2"
)

// StartCampaign begins (or resumes) a campaign. When another campaign holds
// the running slot, the campaign is queued instead and the response carries
// its queue position.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	started, err := cc.Manager.Start(campaign.ID)
	if err != nil {
		status := fiber.StatusBadRequest
		if apperrors.IsInvalidTransition(err) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if started.Status == models.StatusQueued {
		return c.JSON(fiber.Map{
			"message":        "Another campaign is running; campaign queued",
			"status":         started.Status,
			"queue_position": started.QueuePosition,
		})
	}

	if err := cc.Scheduler.HandOff(started); err != nil {
		cc.Logger.Printf("Failed to hand off campaign %d: %v", started.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start campaign executor",
		})
	}

	cc.Logger.Printf("Campaign %d started by user %d", started.ID, user.ID)
	return c.JSON(fiber.Map{
		"message": "Campaign started successfully",
		"status":  started.Status,
	})
}

// PauseCampaign suspends a running campaign. Progress counters are kept and
// the campaign can be resumed with start.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Manager.Pause(campaign.ID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Nudge the executor so it notices before the next row.
	cc.Registry.Signal(campaign.ID)

	return c.JSON(fiber.Map{
		"message": "Campaign paused successfully",
	})
}

// StopCampaign dequeues a queued campaign or cancels a running/paused one.
func (cc *CampaignController) StopCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Manager.Stop(campaign.ID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cc.Registry.Signal(campaign.ID)

	return c.JSON(fiber.Map{
		"message": "Campaign stopped successfully",
	})
}
