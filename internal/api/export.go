package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"driftsync/internal/models"
)

// handleQueueExport writes the current queue contents to an xlsx file
// and returns its path.
func (s *HTTPServer) handleQueueExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path, err := s.exportQueue(r)
	if err != nil {
		s.logger.Error().Err(err).Msg("queue export failed")
		writeError(w, http.StatusInternalServerError, "failed to export queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *HTTPServer) exportQueue(r *http.Request) (string, error) {
	if err := os.MkdirAll(s.exportPath, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	ops, err := s.queue.GetPendingOperations(r.Context(), 0)
	if err != nil {
		return "", fmt.Errorf("error getting operations: %v", err)
	}

	stats, err := s.queue.GetStats(r.Context())
	if err != nil {
		return "", fmt.Errorf("error getting stats: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Operations"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Pending operations as of %s",
		time.Now().Format("2006-01-02 15:04:05")))
	_ = f.MergeCell(sheetName, "A1", "G1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	writeOperationHeaders(f, sheetName)
	writeOperationRows(f, sheetName, ops)
	writeStatsSheet(f, stats)

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 18)
	_ = f.SetColWidth(sheetName, "C", "E", 12)
	_ = f.SetColWidth(sheetName, "F", "G", 20)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("queue_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(s.exportPath, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	s.logger.Info().Str("file_path", filePath).Int("operations", len(ops)).Msg("queue exported")
	return filePath, nil
}

func writeOperationHeaders(f *excelize.File, sheetName string) {
	headers := []string{"ID", "Type", "Status", "Priority", "Retries", "Created", "Updated"}

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func writeOperationRows(f *excelize.File, sheetName string, ops []models.Operation) {
	for i, op := range ops {
		row := i + 3
		values := []any{
			op.ID,
			op.Type,
			op.Status,
			op.Priority,
			op.RetryCount,
			op.CreatedAt.Format("2006-01-02 15:04:05"),
			op.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}
}

func writeStatsSheet(f *excelize.File, stats map[string]int) {
	sheetName := "Stats"
	if _, err := f.NewSheet(sheetName); err != nil {
		return
	}

	_ = f.SetCellValue(sheetName, "A1", "Status")
	_ = f.SetCellValue(sheetName, "B1", "Count")

	row := 2
	for _, status := range models.Statuses {
		cellA, _ := excelize.CoordinatesToCellName(1, row)
		cellB, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(sheetName, cellA, status)
		_ = f.SetCellValue(sheetName, cellB, stats[status])
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 22)
}
