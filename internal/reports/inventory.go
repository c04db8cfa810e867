package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"carbon-ledger/registry-backend/internal/credits"
)

// InventoryExporter writes the registry's project and batch inventory as an
// Excel workbook, one row per batch.
type InventoryExporter struct {
	service *credits.Service
}

func NewInventoryExporter(service *credits.Service) *InventoryExporter {
	return &InventoryExporter{service: service}
}

const inventorySheet = "Inventory"

var inventoryColumns = []string{
	"Project ID", "Project Name", "Status", "Group ID", "Batch",
	"Vintage Year", "Total Supply", "Minted", "Retired", "Available",
}

// Export writes the workbook to w. Projects come out in store order, groups
// and batches in their canonical ascending order.
func (e *InventoryExporter) Export(ctx context.Context, w io.Writer) error {
	file := excelize.NewFile()
	defer file.Close()
	file.SetSheetName("Sheet1", inventorySheet)

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	for i, col := range inventoryColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		file.SetCellValue(inventorySheet, cell, col)
		file.SetCellStyle(inventorySheet, cell, cell, headerStyle)
	}
	file.SetPanes(inventorySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	projects, err := e.service.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	row := 2
	for _, stored := range projects {
		project := stored.Project
		for _, groupID := range project.GroupIDs() {
			group := project.BatchGroups[groupID]
			for _, batch := range group.Batches {
				values := []interface{}{
					uint64(stored.ID),
					project.Name,
					string(project.Approved),
					uint64(groupID),
					batch.Name,
					int(batch.IssuanceYear),
					batch.TotalSupply,
					batch.Minted,
					batch.Retired,
					batch.TotalSupply - batch.Minted,
				}
				for i, v := range values {
					cell, _ := excelize.CoordinatesToCellName(i+1, row)
					file.SetCellValue(inventorySheet, cell, v)
				}
				row++
			}
		}
	}

	if row > 2 {
		lastCol, _ := excelize.CoordinatesToCellName(len(inventoryColumns), 1)
		file.AutoFilter(inventorySheet, "A1:"+lastCol, nil)
	}

	return file.Write(w)
}
