/**
 * @description
 * Deal analytics API handlers.
 * Read-only endpoints over the price tracking/prediction core: price
 * history, prediction history, composite analysis, and tracker statistics.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/errs
 */

package handlers

import (
	"errors"

	"github.com/dealwatch-project/backend/internal/api/middleware"
	"github.com/dealwatch-project/backend/internal/errs"
	"github.com/dealwatch-project/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type DealHandler struct {
	Trackers    *services.TrackerService
	Predictions *services.PredictionService
}

func NewDealHandler(trackers *services.TrackerService, predictions *services.PredictionService) *DealHandler {
	return &DealHandler{Trackers: trackers, Predictions: predictions}
}

// GetPriceHistory returns a deal's price points in timestamp order
// GET /api/v1/deals/:id/prices
func (h *DealHandler) GetPriceHistory(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid deal id"})
	}

	limit := c.QueryInt("limit", 0)
	points, err := h.Trackers.GetPriceHistory(c.Context(), dealID, limit)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(points)
}

// GetPredictions returns a deal's predictions, newest first
// GET /api/v1/deals/:id/predictions
func (h *DealHandler) GetPredictions(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid deal id"})
	}

	skip := c.QueryInt("skip", 0)
	limit := c.QueryInt("limit", 20)
	rows, err := h.Predictions.GetDealPredictions(c.Context(), dealID, skip, limit)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(rows)
}

// AnalyzeDeal returns the composite price analysis for a deal
// GET /api/v1/deals/:id/analysis
func (h *DealHandler) AnalyzeDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid deal id"})
	}

	out, err := h.Predictions.AnalyzeDealPrice(c.Context(), dealID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(out)
}

// GetTrackerStats returns derived statistics for one of the caller's trackers
// GET /api/v1/trackers/:id/stats
func (h *DealHandler) GetTrackerStats(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	trackerID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid tracker id"})
	}

	stats, err := h.Trackers.GetPriceStats(c.Context(), trackerID, userID)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(stats)
}

// domainError maps the error taxonomy onto HTTP statuses with descriptive
// messages instead of generic 500s.
func domainError(c *fiber.Ctx, err error) error {
	var (
		notFound     *errs.NotFoundError
		insufficient *errs.InsufficientDataError
		validation   *errs.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &insufficient):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
