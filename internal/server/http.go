// Package server exposes the query façade over a thin HTTP/JSON
// surface. Authentication and sessions belong to the portal's web
// layer, not here.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"IRREngine/internal/domain"
	"IRREngine/internal/observability"
	"IRREngine/internal/query"
)

// Server wires the façade into gin handlers.
type Server struct {
	service *query.Service
	health  *observability.HealthChecker
	logger  zerolog.Logger
}

func New(service *query.Service, health *observability.HealthChecker, logger zerolog.Logger) *Server {
	return &Server{service: service, health: health, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	api := r.Group("/api/v1")
	api.GET("/irr", s.getIRR)
	api.GET("/dashboard", s.getDashboard)
	api.POST("/refresh", s.postRefresh)

	return r
}

// getIRR handles GET /api/v1/irr?level=&entity_id=&as_of=
func (s *Server) getIRR(c *gin.Context) {
	level, ok := domain.ParseLevel(c.Query("level"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown level"})
		return
	}

	entityID, err := uuid.Parse(c.Query("entity_id"))
	if err != nil && level == domain.LevelOrganization && c.Query("entity_id") == "" {
		entityID = domain.OrganizationID
		err = nil
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid entity_id"})
		return
	}

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := c.Query("as_of"); raw != "" {
		asOf, err = time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "as_of must be YYYY-MM-DD"})
			return
		}
	}

	resp, err := s.service.GetIRR(c.Request.Context(), level, entityID, asOf)
	if err != nil {
		s.logger.Error().Err(err).Msg("irr query failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	status := http.StatusOK
	if resp.Status == query.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// getDashboard handles GET /api/v1/dashboard
func (s *Server) getDashboard(c *gin.Context) {
	summary, err := s.service.GetDashboardSummary(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("dashboard query failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	status := http.StatusOK
	if summary.RateStatus == query.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, summary)
}

type refreshRequest struct {
	Level    string `json:"level" binding:"required"`
	EntityID string `json:"entity_id"`
	AsOfDate string `json:"as_of_date"`
}

// postRefresh handles POST /api/v1/refresh
func (s *Server) postRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	level, ok := domain.ParseLevel(req.Level)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown level"})
		return
	}

	var entityID *uuid.UUID
	if req.EntityID != "" {
		id, err := uuid.Parse(req.EntityID)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid entity_id"})
			return
		}
		entityID = &id
	}

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if req.AsOfDate != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOfDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "as_of_date must be YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}

	scheduled := s.service.ForceRefresh(level, entityID, asOf)
	c.JSON(http.StatusAccepted, gin.H{"scheduled": scheduled})
}
