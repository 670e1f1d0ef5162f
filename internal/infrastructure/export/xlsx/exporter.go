// Package xlsx renders applications as a spreadsheet for offline review.
package xlsx

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

const sheetName = "Applications"

var headers = []string{
	"ID",
	"Status",
	"Priority",
	"Patient Name",
	"DOB",
	"Phone",
	"Insurance",
	"Policy Number",
	"Diagnosis",
	"Medications",
	"Allergies",
	"Physician",
	"Facility",
	"Services",
	"Confidence",
	"Source Email",
	"Subject",
	"Created At",
}

type Exporter struct{}

func NewExporter() *Exporter {
	return &Exporter{}
}

func (e *Exporter) ExportApplications(apps []domain.Application) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, headerStyle)
	}

	for i, app := range apps {
		row := i + 2
		values := []any{
			app.ID,
			string(app.Status),
			app.Priority,
			app.PatientName,
			app.DOB,
			app.Phone,
			app.Insurance,
			app.PolicyNumber,
			strings.Join(app.Diagnosis, "; "),
			strings.Join(app.Medications, "; "),
			strings.Join(app.Allergies, "; "),
			app.Physician,
			app.Facility,
			strings.Join(app.Services, "; "),
			app.ConfidenceScore,
			app.SourceEmail,
			app.RawEmailSubject,
			app.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "D", "D", 26)
	_ = f.SetColWidth(sheetName, "I", "K", 36)
	_ = f.SetColWidth(sheetName, "N", "N", 30)
	_ = f.SetColWidth(sheetName, "P", "Q", 30)
	_ = f.SetColWidth(sheetName, "R", "R", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	slog.Info("applications_exported", "rows", len(apps))
	return buf.Bytes(), nil
}
