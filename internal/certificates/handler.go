package certificates

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/ledger"
)

type Handler struct {
	service   *credits.Service
	generator *Generator
}

func NewHandler(service *credits.Service, generator *Generator) *Handler {
	return &Handler{service: service, generator: generator}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/assets/:id/retirements/:item/certificate", h.Download)
}

func (h *Handler) Download(c *gin.Context) {
	assetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}
	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	ctx := c.Request.Context()
	data, err := h.service.GetRetirement(ctx, ledger.AssetID(assetID), ledger.ItemID(itemID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "retirement not found"})
		return
	}

	projectName := ""
	if projectID, _, found := h.service.LookupAsset(ctx, ledger.AssetID(assetID)); found {
		if project, ok := h.service.GetProjectDetails(ctx, projectID); ok {
			projectName = project.Name
		}
	}

	pdf, err := h.generator.RetirementCertificate(projectName, ledger.AssetID(assetID), ledger.ItemID(itemID), data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("retirement-%d-%d.pdf", assetID, itemID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
