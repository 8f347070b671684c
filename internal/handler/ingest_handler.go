package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/service"
	"github.com/jengzang/mobile-supervisor-go/internal/validation"
	"github.com/jengzang/mobile-supervisor-go/pkg/response"
)

const maxReportBytes = 64 << 10

// IngestHandler handles device position reports
type IngestHandler struct {
	ingestService *service.IngestService
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingestService *service.IngestService) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
	}
}

// PostPosition handles POST /api/v1/ingest/position and POST /api/v1/data/submit.
// Both report shapes are accepted on either route.
func (h *IngestHandler) PostPosition(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReportBytes)
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "Failed to read request body")
		return
	}

	report, err := validation.DecodeReport(body)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), report)
	switch {
	case err == nil:
		response.Success(c, result)
	case models.IsClientError(err):
		response.BadRequest(c, err.Error())
	case c.Request.Context().Err() != nil:
		response.Error(c, http.StatusServiceUnavailable, "Request canceled")
	default:
		response.ErrorWithData(c, http.StatusInternalServerError, "Failed to persist position", result)
	}
}
