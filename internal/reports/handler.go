package reports

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	exporter *InventoryExporter
}

func NewHandler(exporter *InventoryExporter) *Handler {
	return &Handler{exporter: exporter}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/reports/inventory", h.Inventory)
}

func (h *Handler) Inventory(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.exporter.Export(c.Request.Context(), &buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filename := "credit-inventory-" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
