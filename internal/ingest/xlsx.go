// Package ingest stages raw contact records for the unification engine:
// spreadsheet imports and CRM pulls. It only writes staging rows; the engine
// remains the sole consumer.
package ingest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/db"
)

// identityColumns are the spreadsheet headers recognized as first-class
// staging columns. Everything else lands in the raw_data bag.
var identityColumns = map[string]string{
	"email":         "email",
	"email address": "email",
	"phone":         "phone",
	"phone number":  "phone",
	"name":          "full_name",
	"full name":     "full_name",
}

// ImportResult summarizes one workbook import.
type ImportResult struct {
	Staged  int64
	Skipped int64
}

// ImportXLSX stages every data row of the workbook's first sheet. The first
// row is treated as headers. Rows with neither an email nor a phone value
// are skipped up front rather than staged as guaranteed dead weight.
func ImportXLSX(ctx context.Context, pool db.Pool, path string) (*ImportResult, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open workbook %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("ingest: workbook %s has no sheets", path)
	}

	sheet := wb.Sheets[0]
	if len(sheet.Rows) < 2 {
		return &ImportResult{}, nil
	}

	headers := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		headers[i] = strings.ToLower(strings.TrimSpace(cell.String()))
	}

	result := &ImportResult{}
	var rows [][]any

	for _, row := range sheet.Rows[1:] {
		var email, phone, fullName string
		extra := map[string]any{}

		for i, cell := range row.Cells {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			val := strings.TrimSpace(cell.String())
			if val == "" {
				continue
			}
			switch identityColumns[headers[i]] {
			case "email":
				email = val
			case "phone":
				phone = val
			case "full_name":
				fullName = val
			default:
				extra[headers[i]] = val
			}
		}

		if email == "" && phone == "" {
			result.Skipped++
			continue
		}

		rawJSON, err := json.Marshal(extra)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: encode raw_data")
		}
		rows = append(rows, []any{
			nullIfEmpty(email), nullIfEmpty(phone), nullIfEmpty(fullName),
			rawJSON, "staged",
		})
	}

	n, err := db.CopyFromSchema(ctx, pool, "staging", "sheet_imports",
		[]string{"email", "phone", "full_name", "raw_data", "processing_status"}, rows)
	if err != nil {
		return nil, err
	}
	result.Staged = n

	zap.L().Info("spreadsheet staged",
		zap.String("path", path),
		zap.Int64("staged", result.Staged),
		zap.Int64("skipped", result.Skipped),
	)
	return result, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
