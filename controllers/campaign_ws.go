package controller

import (
	"log"
	"time"

	"wablast/config"
	"wablast/models"

	"github.com/gofiber/websocket/v2"
)

// HandleCampaignProgressWS streams live campaign progress to the client
// until the campaign reaches a terminal state or the client disconnects.
func HandleCampaignProgressWS(c *websocket.Conn) {
	defer c.Close()

	campaignID := c.Params("id")
	userID, _ := c.Locals("userID").(uint)

	for {
		var campaign models.Campaign
		if err := config.DB.Where("id = ? AND user_id = ?", campaignID, userID).First(&campaign).Error; err != nil {
			_ = c.WriteJSON(map[string]string{"error": "Campaign not found"})
			return
		}

		percent := 0
		if campaign.TotalRows > 0 {
			percent = campaign.ProcessedRows * 100 / campaign.TotalRows
		}

		progress := struct {
			Status        string `json:"status"`
			TotalRows     int    `json:"total_rows"`
			ProcessedRows int    `json:"processed_rows"`
			SuccessCount  int    `json:"success_count"`
			ErrorCount    int    `json:"error_count"`
			Percent       int    `json:"percent"`
			ErrorDetails  string `json:"error_details,omitempty"`
		}{
			Status:        campaign.Status,
			TotalRows:     campaign.TotalRows,
			ProcessedRows: campaign.ProcessedRows,
			SuccessCount:  campaign.SuccessCount,
			ErrorCount:    campaign.ErrorCount,
			Percent:       percent,
			ErrorDetails:  campaign.ErrorDetails,
		}

		if err := c.WriteJSON(progress); err != nil {
			log.Printf("Error writing progress JSON: %v", err)
			return
		}

		if models.IsTerminal(campaign.Status) {
			return
		}

		time.Sleep(2 * time.Second)
	}
}
