package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/havenloop/attune/ai/broadcast"
	"github.com/havenloop/attune/ai/search"
	"github.com/havenloop/attune/store"
)

// handleBroadcast runs the full pipeline for one conversational turn.
func (s *APIV1Service) handleBroadcast(c echo.Context) error {
	var input broadcast.BroadcastInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if input.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	result, err := s.Broadcast.Broadcast(c.Request().Context(), input)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}

type candidacyPoolRequest struct {
	broadcast.BroadcastInput
	TopN int `json:"topN"`
}

// handleCandidacyPool previews the ranking without side effects.
func (s *APIV1Service) handleCandidacyPool(c echo.Context) error {
	var req candidacyPoolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	pool, err := s.Broadcast.GetBehaviorCandidacyPool(c.Request().Context(), req.BroadcastInput, req.TopN)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
	}
	if pool == nil {
		pool = []search.BehaviorCandidate{}
	}
	return c.JSON(http.StatusOK, map[string]any{"candidates": pool})
}

type weightsRequest struct {
	Weights map[search.VectorType]float32 `json:"weights"`
}

func (s *APIV1Service) handleGetWeights(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"weights": s.Broadcast.GetVectorWeights()})
}

// handleSetWeights merges partial weight overrides; unnamed types keep their
// current values.
func (s *APIV1Service) handleSetWeights(c echo.Context) error {
	var req weightsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if len(req.Weights) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "weights must not be empty")
	}
	s.Broadcast.SetVectorWeights(req.Weights)
	return c.JSON(http.StatusOK, map[string]any{"weights": s.Broadcast.GetVectorWeights()})
}

type updateStateRequest struct {
	ActiveBehaviorID *string `json:"activeBehaviorId"`
	SessionID        *string `json:"sessionId"`
}

// handleUpdateState commits the caller's behavior selection back to the
// conversation state, which is what arms the continuity bonus for the
// following turn. Broadcast itself never sets the active behavior; the agent
// decides and reports back here.
func (s *APIV1Service) handleUpdateState(c echo.Context) error {
	userID := c.Param("userId")
	var req updateStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if req.ActiveBehaviorID == nil && req.SessionID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}

	state, err := s.Searcher.UpdateConversationState(c.Request().Context(), userID, store.StatePatch{
		ActiveBehaviorID: req.ActiveBehaviorID,
		SessionID:        req.SessionID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update conversation state").SetInternal(err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *APIV1Service) handleGetState(c echo.Context) error {
	userID := c.Param("userId")
	state, err := s.Searcher.GetConversationState(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation state").SetInternal(err)
	}
	if state == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no conversation state for user")
	}
	return c.JSON(http.StatusOK, state)
}
