package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"webharvest/internal/config"
	"webharvest/internal/dispatch"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

var validate = validator.New()

// BatchRequest is the payload of the batch extraction endpoint
type BatchRequest struct {
	Requests []*models.ExtractionRequest `json:"requests" validate:"required,min=1,max=50,dive"`
}

// ExtractHandler dispatches a single extraction request
func ExtractHandler(cfg *config.Config, orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		startTime := time.Now()
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)

		var req models.ExtractionRequest
		if err := c.Bind(&req); err != nil {
			logger.Error("Failed to bind extraction request", map[string]interface{}{
				"error": err.Error(),
			})
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "invalid_request",
				Message:   "Invalid request format",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			logger.Error("Extraction request validation failed", map[string]interface{}{
				"error": err.Error(),
			})
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "validation_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		if req.ID == "" {
			req.ID = requestID
		}

		logger.Info("Processing extraction request", map[string]interface{}{
			"url":     req.URL,
			"backend": string(req.Backend),
		})

		result := orch.Extract(c.Request().Context(), &req)

		response := models.ExtractionResponse{
			Success:        result.Succeeded(),
			Result:         result,
			ProcessingTime: time.Since(startTime),
			Backend:        result.Backend,
			RequestID:      requestID,
		}
		return c.JSON(http.StatusOK, response)
	}
}

// BatchExtractHandler dispatches a batch of extraction requests,
// returning results in submission order.
func BatchExtractHandler(cfg *config.Config, orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		startTime := time.Now()
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)

		var req BatchRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "invalid_request",
				Message:   "Invalid request format",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "validation_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		logger.Info("Processing batch extraction", map[string]interface{}{
			"count": len(req.Requests),
		})

		results := orch.BatchExtract(c.Request().Context(), req.Requests)

		success := true
		for _, r := range results {
			if !r.Succeeded() {
				success = false
				break
			}
		}

		response := models.BatchExtractionResponse{
			Success:        success,
			Results:        results,
			ProcessingTime: time.Since(startTime),
			RequestID:      requestID,
		}
		return c.JSON(http.StatusOK, response)
	}
}

// SuggestHandler returns the backend the configured strategy would
// pick for a request without dispatching it.
func SuggestHandler(cfg *config.Config, orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()

		var req models.ExtractionRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "invalid_request",
				Message:   "Invalid request format",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		strategy := dispatch.ParseStrategy(c.QueryParam("strategy"))
		if c.QueryParam("strategy") == "" {
			strategy = dispatch.ParseStrategy(cfg.Dispatch.Strategy)
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"backend":    orch.SuggestBackend(&req, strategy),
			"strategy":   strategy,
			"request_id": requestID,
		})
	}
}
