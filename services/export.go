package services

import (
	"bytes"
	"fmt"

	"github.com/aj9599/submeter-billing/models"
	"github.com/xuri/excelize/v2"
)

const readingsSheet = "Readings"

var readingHeaders = []interface{}{
	"Reading ID", "Submitted (UTC)", "Tenant", "Shop", "Meter", "Value", "Status", "Reason", "Submitted by", "Photo",
}

// ReadingExporter writes reading rows as an .xlsx workbook.
type ReadingExporter struct{}

func (ReadingExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (ReadingExporter) Export(rows []models.ReadingExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", readingsSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(readingsSheet, "A1", &readingHeaders); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(readingsSheet, 1, 1, bold); err != nil {
		return nil, err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			r.ReadingID,
			r.SubmittedAt.UTC().Format("2006-01-02 15:04"),
			r.TenantName,
			r.ShopNumber,
			r.MeterNumber,
			r.ClosingValue,
			r.Status,
			r.Reason,
			r.SubmittedBy,
			r.PhotoURL,
		}
		if err := f.SetSheetRow(readingsSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(readingsSheet, "B", "C", 20); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(readingsSheet, "J", "J", 50); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
