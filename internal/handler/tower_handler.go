package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
	"github.com/jengzang/mobile-supervisor-go/internal/service"
	"github.com/jengzang/mobile-supervisor-go/pkg/response"
)

// TowerOptions holds the defaults used by the tower maintenance routes
type TowerOptions struct {
	DatasetPath     string
	EnrichBatchSize int
	EnrichAfter     bool
}

// TowerHandler handles HTTP requests for cached cell towers
type TowerHandler struct {
	towerRepo     *repository.TowerRepository
	resolver      *service.TowerResolver
	importService *service.ImportService
	enrichService *service.EnrichmentService
	opts          TowerOptions
}

// NewTowerHandler creates a new tower handler
func NewTowerHandler(towerRepo *repository.TowerRepository, resolver *service.TowerResolver, importService *service.ImportService, enrichService *service.EnrichmentService, opts TowerOptions) *TowerHandler {
	if opts.EnrichBatchSize < 1 {
		opts.EnrichBatchSize = 50
	}
	return &TowerHandler{
		towerRepo:     towerRepo,
		resolver:      resolver,
		importService: importService,
		enrichService: enrichService,
		opts:          opts,
	}
}

// GetInBoundingBox handles GET /api/v1/bts?minLat=&maxLat=&minLon=&maxLon=
func (h *TowerHandler) GetInBoundingBox(c *gin.Context) {
	var box models.BoundingBox
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"minLat", &box.MinLat}, {"maxLat", &box.MaxLat}, {"minLon", &box.MinLon}, {"maxLon", &box.MaxLon},
	} {
		v, err := strconv.ParseFloat(c.Query(p.name), 64)
		if err != nil {
			response.BadRequest(c, "Invalid or missing "+p.name)
			return
		}
		*p.dst = v
	}
	if !box.Valid() {
		response.BadRequest(c, "Invalid bounding box")
		return
	}

	towers, err := h.towerRepo.InBoundingBox(c.Request.Context(), box)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, towers)
}

// Lookup handles GET /api/v1/bts/lookup?mcc=&mnc=&lac=&cid=&radio=
func (h *TowerHandler) Lookup(c *gin.Context) {
	var tower models.ReportedTower
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"mcc", &tower.MCC}, {"mnc", &tower.MNC}, {"lac", &tower.LAC}, {"cid", &tower.CID},
	} {
		v, err := strconv.ParseInt(c.Query(p.name), 10, 64)
		if err != nil || v < 0 {
			response.BadRequest(c, "Invalid or missing "+p.name)
			return
		}
		*p.dst = v
	}
	tower.Radio = strings.ToLower(c.Query("radio"))

	rec, err := h.resolver.Resolve(c.Request.Context(), tower)
	switch {
	case err == nil:
		response.Success(c, rec)
	case errors.Is(err, models.ErrProviderUnavailable):
		response.BadGateway(c, "Geolocation provider unavailable")
	case errors.Is(err, models.ErrTowerNotFound):
		response.NotFound(c, "Tower not found")
	default:
		response.InternalError(c, err.Error())
	}
}

// Import handles POST /api/v1/bts/import. A text/csv body is imported as the
// dataset, otherwise the configured dataset file is used. The file cannot be
// chosen by the caller. One enrichment batch follows when enabled.
func (h *TowerHandler) Import(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		result models.ImportResult
		err    error
	)
	if strings.HasPrefix(c.ContentType(), "text/csv") {
		result, err = h.importService.ImportDataset(ctx, c.Request.Body)
	} else {
		if _, ok := c.GetQuery("path"); ok {
			response.BadRequest(c, "Dataset path is not accepted; upload a text/csv body instead")
			return
		}
		if h.opts.DatasetPath == "" {
			response.BadRequest(c, "No dataset path configured")
			return
		}
		result, err = h.importService.ImportFile(ctx, h.opts.DatasetPath)
	}
	if err != nil {
		response.ErrorWithData(c, http.StatusInternalServerError, "Import failed", result)
		return
	}

	data := gin.H{"import": result}
	if h.opts.EnrichAfter {
		enriched, err := h.enrichService.EnrichBatch(ctx, h.opts.EnrichBatchSize)
		if err != nil {
			response.ErrorWithData(c, http.StatusInternalServerError, "Enrichment failed", data)
			return
		}
		data["enrich"] = enriched
	}
	response.Success(c, data)
}

// Enrich handles POST /api/v1/bts/enrich?limit=
func (h *TowerHandler) Enrich(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.opts.EnrichBatchSize)))
	if err != nil || limit < 1 {
		response.BadRequest(c, "Invalid limit parameter")
		return
	}

	result, err := h.enrichService.EnrichBatch(c.Request.Context(), limit)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// FillAllAddresses handles POST /api/v1/bts/fill-all-address
func (h *TowerHandler) FillAllAddresses(c *gin.Context) {
	result, err := h.enrichService.FillAll(c.Request.Context(), h.opts.EnrichBatchSize)
	if err != nil {
		response.ErrorWithData(c, http.StatusInternalServerError, err.Error(), result)
		return
	}
	response.Success(c, result)
}
