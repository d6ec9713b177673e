package controller

import (
	"log"
	"path/filepath"
	"strings"

	"wablast/models"
	"wablast/utils"
	"wablast/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB        *gorm.DB
	Logger    *log.Logger
	Manager   *utils.CampaignManager
	Scheduler *worker.Scheduler
	Registry  *worker.Registry
	UploadDir string
}

func NewCampaignController(db *gorm.DB, logger *log.Logger, manager *utils.CampaignManager,
	scheduler *worker.Scheduler, registry *worker.Registry, uploadDir string) *CampaignController {
	return &CampaignController{
		DB:        db,
		Logger:    logger,
		Manager:   manager,
		Scheduler: scheduler,
		Registry:  registry,
		UploadDir: uploadDir,
	}
}

// UploadSource stores a recipient spreadsheet and returns the server-side
// path to reference from a campaign spec.
func (cc *CampaignController) UploadSource(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing file upload",
		})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Only .csv and .xlsx sources are supported",
		})
	}

	dest := filepath.Join(cc.UploadDir, uuid.NewString()+ext)
	if err := c.SaveFile(file, dest); err != nil {
		cc.Logger.Printf("Failed to save upload: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
		})
	}

	return c.JSON(fiber.Map{
		"source_file": dest,
		"filename":    file.Filename,
	})
}

// CreateCampaign validates the spec and persists a new campaign.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input utils.CreateCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	campaign, err := cc.Manager.Create(user.ID, &input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// ListCampaigns fetches the user's campaigns with pagination.
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := cc.DB.Model(&models.Campaign{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count campaigns",
		})
	}

	var campaigns []models.Campaign
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}

	totalPages := (int(total) + pageSize - 1) / pageSize
	return c.JSON(fiber.Map{
		"campaigns": campaigns,
		"pagination": fiber.Map{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

// GetCampaign returns one campaign with per-status delivery stats.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	stats := fiber.Map{
		"total":   0,
		"pending": 0,
		"sending": 0,
		"sent":    0,
		"failed":  0,
	}

	rows, err := cc.DB.Model(&models.Delivery{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Rows()
	if err != nil {
		cc.Logger.Printf("Failed to query delivery stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch delivery stats",
		})
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to scan delivery stats",
			})
		}
		if _, ok := stats[status]; ok {
			stats[status] = count
		}
		total += count
	}
	stats["total"] = total

	return c.JSON(fiber.Map{
		"campaign":       campaign,
		"delivery_stats": stats,
	})
}

// GetCampaignDeliveries returns the per-recipient outcomes, paginated.
func (cc *CampaignController) GetCampaignDeliveries(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := cc.DB.Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var deliveries []models.Delivery
	if err := query.Order("row_number ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&deliveries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deliveries",
		})
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
		"page":       page,
		"page_size":  pageSize,
	})
}

// GetCampaignAnalytics returns per-sample A/B stats.
func (cc *CampaignController) GetCampaignAnalytics(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var analytics []models.CampaignAnalytics
	if err := cc.DB.Where("campaign_id = ?", campaign.ID).
		Order("sample_index ASC").
		Find(&analytics).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch analytics",
		})
	}

	return c.JSON(fiber.Map{"analytics": analytics})
}

// DeleteCampaign removes a campaign and its children. Rejected while running.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	campaignID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign ID",
		})
	}

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, user.ID).First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Manager.Delete(campaign.ID); err != nil {
		cc.Logger.Printf("Failed to delete campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign deleted successfully",
	})
}

// SchedulerStatus exposes the control loop's observability snapshot.
func (cc *CampaignController) SchedulerStatus(c *fiber.Ctx) error {
	return c.JSON(cc.Scheduler.Status())
}
