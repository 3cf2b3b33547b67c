// Package artifact renders completed search results into spreadsheet
// files that clients download.
package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/hydrofind/hydrofind/task"
)

// SheetName is the single result sheet.
const SheetName = "Результаты поиска"

// notFoundMarker fills the name column for queries with no matches.
const notFoundMarker = "Не найден"

var (
	headers   = []string{"Запрос", "Наименование", "Артикул", "Количество"}
	colWidths = []float64{40, 50, 20, 10}
)

// Builder writes xlsx artifacts under a target directory.
type Builder struct {
	dir    string
	logger *slog.Logger
}

// NewBuilder creates the target directory if needed.
func NewBuilder(dir string, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Builder{dir: dir, logger: logger}, nil
}

// Build renders the result and saves it as <dir>/<taskID>.xlsx, returning
// the path.
func (b *Builder) Build(taskID string, result *task.Result) (string, error) {
	f, err := render(result)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(b.dir, taskID+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save artifact %s: %w", taskID, err)
	}

	b.logger.Debug("Built artifact", "task_id", taskID, "path", path)
	return path, nil
}

// Write streams the rendered result without touching disk.
func Write(w io.Writer, result *task.Result) error {
	f, err := render(result)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func render(result *task.Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for i, width := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := 2
	switch {
	case result == nil:
		// Nothing to render beyond the header.
	case result.Type == task.KindBatch && result.Batch != nil:
		for _, sub := range result.Batch.Results {
			row = appendResult(f, row, &sub)
		}
	case result.Single != nil:
		appendResult(f, row, result.Single)
	}

	return f, nil
}

// appendResult writes one row per match, or a single not-found row, and
// returns the next free row.
func appendResult(f *excelize.File, row int, res *task.SingleResult) int {
	qty := 1
	if res.Quantity != nil {
		qty = *res.Quantity
	}

	if len(res.Matches) == 0 {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetSheetRow(SheetName, cell, &[]any{res.Query, notFoundMarker, "", ""})
		return row + 1
	}

	for _, m := range res.Matches {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetSheetRow(SheetName, cell, &[]any{res.Query, m.Name, m.Article, qty})
		row++
	}
	return row
}
