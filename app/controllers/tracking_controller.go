package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/postback"
)

// TrackingController relays client-reported funnel events to the tracking
// endpoint. The relay only ever acknowledges acceptance; forwarding is
// best-effort and reported in the body, never via the status code.
type TrackingController struct {
	postbacks *postback.Client
}

func NewTrackingController(postbacks *postback.Client) *TrackingController {
	return &TrackingController{postbacks: postbacks}
}

type trackingEventRequest struct {
	Status         string            `json:"status" validate:"required"`
	ClickID        string            `json:"clickid" validate:"required"`
	TrackingParams map[string]string `json:"tracking_params"`
	SessionID      string            `json:"session_id"`
	PagePath       string            `json:"page_path"`
}

func (ctrl *TrackingController) HandleRelayEvent(c *fiber.Ctx) error {
	var req trackingEventRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	log.Printf("tracking_relay_in method=POST status=%s clickid=%s session_id=%s params=%d",
		truncate(req.Status, 64), truncate(req.ClickID, 64), truncate(req.SessionID, 64), len(req.TrackingParams))

	forwarded, err := ctrl.postbacks.Relay(req.Status, req.ClickID, req.TrackingParams)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"accepted": true, "forwarded": forwarded})
}

// HandleRelayEventFallback is the GET variant for beacon-style callers that
// cannot POST; every query param outside the named ones becomes a tracking
// param.
func (ctrl *TrackingController) HandleRelayEventFallback(c *fiber.Ctx) error {
	status := c.Query("status")
	clickID := c.Query("clickid")
	if status == "" || clickID == "" {
		return respondError(c, apperr.Validation("status and clickid are required"))
	}

	trackingParams := map[string]string{}
	for key, value := range c.Queries() {
		switch key {
		case "status", "clickid", "session_id", "page_path":
			continue
		}
		trackingParams[key] = value
	}
	log.Printf("tracking_relay_in method=GET status=%s clickid=%s session_id=%s params=%d",
		truncate(status, 64), truncate(clickID, 64), truncate(c.Query("session_id"), 64), len(trackingParams))

	forwarded, err := ctrl.postbacks.Relay(status, clickID, trackingParams)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"accepted": true, "forwarded": forwarded})
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
