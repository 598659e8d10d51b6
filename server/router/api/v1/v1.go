// Package v1 exposes the retrieval pipeline over HTTP.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/havenloop/attune/ai/broadcast"
	"github.com/havenloop/attune/ai/embedding"
	"github.com/havenloop/attune/ai/search"
	"github.com/havenloop/attune/ai/vectorstore"
	"github.com/havenloop/attune/internal/profile"
)

type APIV1Service struct {
	Profile   *profile.Profile
	Broadcast *broadcast.Service
	Searcher  *search.Service
	Vectors   *vectorstore.Service
	Embedder  embedding.Service
}

func NewAPIV1Service(instanceProfile *profile.Profile, broadcastService *broadcast.Service, searcher *search.Service, vectors *vectorstore.Service, embedder embedding.Service) *APIV1Service {
	return &APIV1Service{
		Profile:   instanceProfile,
		Broadcast: broadcastService,
		Searcher:  searcher,
		Vectors:   vectors,
		Embedder:  embedder,
	}
}

// RegisterRoutes mounts all v1 endpoints on the given group.
func (s *APIV1Service) RegisterRoutes(g *echo.Group) {
	g.POST("/broadcast", s.handleBroadcast)
	g.POST("/candidates", s.handleCandidacyPool)
	g.POST("/triggers", s.handleStoreTriggers)
	g.DELETE("/triggers", s.handleClearTriggers)
	g.GET("/weights", s.handleGetWeights)
	g.PUT("/weights", s.handleSetWeights)
	g.GET("/state/:userId", s.handleGetState)
	g.PUT("/state/:userId", s.handleUpdateState)
	g.GET("/stats", s.handleStats)
}
