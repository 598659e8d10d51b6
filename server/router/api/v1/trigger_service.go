package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/havenloop/attune/ai/vectorstore"
)

type storeTriggersRequest struct {
	Triggers []vectorstore.Trigger `json:"triggers"`
}

// handleStoreTriggers embeds and persists a batch of behavior triggers. The
// batch is atomic: either all triggers become searchable or none do.
func (s *APIV1Service) handleStoreTriggers(c echo.Context) error {
	var req storeTriggersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if len(req.Triggers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "triggers must not be empty")
	}
	for _, trigger := range req.Triggers {
		if trigger.BehaviorID == "" || trigger.TriggerText == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every trigger needs a behaviorId and triggerText")
		}
	}

	if err := s.Vectors.StoreTriggerEmbeddings(c.Request().Context(), req.Triggers); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store triggers").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"stored": len(req.Triggers)})
}

func (s *APIV1Service) handleClearTriggers(c echo.Context) error {
	if err := s.Vectors.ClearAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear vector store").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleStats reports backend contents and embedding cache effectiveness.
func (s *APIV1Service) handleStats(c echo.Context) error {
	backendStats, err := s.Vectors.GetStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read store stats").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"store": backendStats,
		"cache": s.Embedder.CacheStats(),
	})
}
