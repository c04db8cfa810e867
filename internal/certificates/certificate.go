package certificates

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/ledger"
)

// Generator renders retirement certificates as PDF documents.
type Generator struct {
	issuer string
}

func NewGenerator(issuer string) *Generator {
	return &Generator{issuer: issuer}
}

// RetirementCertificate renders a certificate for a single retirement
// receipt, listing the retired amount per batch and vintage year.
func (g *Generator) RetirementCertificate(
	projectName string,
	assetID ledger.AssetID,
	itemID ledger.ItemID,
	data credits.RetiredCreditsData,
) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 12, "Certificate of Carbon Credit Retirement", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued by %s", g.issuer), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(0, 0, 0)
	retiredAt := data.Timestamp.UTC()

	fields := []struct {
		label string
		value string
	}{
		{"Project", projectName},
		{"Credit Asset", fmt.Sprintf("%d", assetID)},
		{"Certificate Number", fmt.Sprintf("%d-%d", assetID, itemID)},
		{"Retired By", string(data.Account)},
		{"Total Retired", fmt.Sprintf("%d tCO2e", data.Count)},
		{"Retirement Date", retiredAt.Format("2 January 2006")},
	}
	if data.Reason != "" {
		fields = append(fields, struct {
			label string
			value string
		}{"Reason", data.Reason})
	}
	for _, f := range fields {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 8, f.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, f.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Retired Batches", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(90, 8, "Batch", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Vintage Year", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	for i, batch := range data.RetireData {
		if i%2 == 1 {
			pdf.SetFillColor(242, 242, 242)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(90, 7, batch.Name, "1", 0, "L", true, 0, "")
		pdf.CellFormat(40, 7, fmt.Sprintf("%d", batch.IssuanceYear), "1", 0, "C", true, 0, "")
		pdf.CellFormat(40, 7, fmt.Sprintf("%d", batch.Count), "1", 1, "R", true, 0, "")
	}

	pdf.Ln(12)
	pdf.SetFont("Arial", "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
