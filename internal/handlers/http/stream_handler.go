package http

import (
	"net/http"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	"streamgrid/internal/infrastructure/monitoring"
	sgerrors "streamgrid/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamHandler exposes the read-mostly REST surface next to the
// websocket protocol: stream discovery for players and dashboards, stats,
// and operator stream deletion.
type StreamHandler struct {
	service   ports.SignalingService
	directory ports.StreamDirectory
	health    *monitoring.HealthChecker
}

func NewStreamHandler(
	service ports.SignalingService,
	directory ports.StreamDirectory,
	health *monitoring.HealthChecker,
) *StreamHandler {
	return &StreamHandler{
		service:   service,
		directory: directory,
		health:    health,
	}
}

func (h *StreamHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/streams", h.ListStreams)
		api.GET("/streams/all", h.ListAllStreams)
		api.GET("/streams/:id", h.GetStream)
		api.GET("/streams/:id/stats", h.GetStreamStats)
		api.DELETE("/streams/:id", h.DeleteStream)
	}

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// ListStreams returns active streams only, mirroring what a subscriber
// sees over the socket.
func (h *StreamHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": h.service.Streams(c.Request.Context()),
	})
}

// ListAllStreams includes registered-but-inactive streams, for operators.
func (h *StreamHandler) ListAllStreams(c *gin.Context) {
	streams := h.directory.ListAll()
	summaries := make([]domain.StreamSummary, 0, len(streams))
	for _, stream := range streams {
		summaries = append(summaries, stream.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"streams": summaries})
}

func (h *StreamHandler) GetStream(c *gin.Context) {
	stream, err := h.service.Stream(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *StreamHandler) GetStreamStats(c *gin.Context) {
	stats, err := h.service.StreamStats(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", stats)
}

func (h *StreamHandler) DeleteStream(c *gin.Context) {
	if err := h.service.DeleteStream(c.Request.Context(), domain.StreamID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *StreamHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func respondError(c *gin.Context, err error) {
	se := sgerrors.AsSignalError(err)
	status := http.StatusInternalServerError
	switch se.Code {
	case sgerrors.CodeNotFound:
		status = http.StatusNotFound
	case sgerrors.CodeInvalidState:
		status = http.StatusConflict
	case sgerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case sgerrors.CodeEngineFailure:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": se.Message, "code": se.Code})
}
