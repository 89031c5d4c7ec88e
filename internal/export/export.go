// Package export writes target tables to flat files for downstream
// analysis: CSV, JSONL, or XLSX, one file per table.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parcl-data/parcl-crawler/internal/etl"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSONL, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unsupported format %q (valid: csv, jsonl, xlsx)", s)
	}
}

// exportAllConcurrency bounds parallel table exports in All.
const exportAllConcurrency = 4

// Table exports one target table to outDir and returns the file path.
// Column order follows the loader's insert order, with fetched_at last.
func Table(ctx context.Context, db store.DB, table string, format Format, outDir string) (string, error) {
	cols, err := etl.TableColumns(table)
	if err != nil {
		return "", err
	}
	cols = append(append([]string{}, cols...), "fetched_at")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir %s", outDir)
	}

	rows, err := db.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table))
	if err != nil {
		return "", eris.Wrapf(err, "export: query %s", table)
	}
	defer rows.Close()

	path := filepath.Join(outDir, table+"."+string(format))
	var n int
	switch format {
	case FormatCSV:
		n, err = writeCSV(path, cols, rows)
	case FormatJSONL:
		n, err = writeJSONL(path, cols, rows)
	case FormatXLSX:
		n, err = writeXLSX(path, table, cols, rows)
	default:
		return "", eris.Errorf("export: unsupported format %q", format)
	}
	if err != nil {
		return "", err
	}

	zap.L().Info("exported table",
		zap.String("table", table),
		zap.Int("rows", n),
		zap.String("path", path),
	)
	return path, nil
}

// All exports every target table concurrently. Returns the written paths
// in table order.
func All(ctx context.Context, db store.DB, format Format, outDir string) ([]string, error) {
	paths := make([]string, len(store.TargetTables))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(exportAllConcurrency)
	for i, table := range store.TargetTables {
		g.Go(func() error {
			path, err := Table(ctx, db, table, format, outDir)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// scanRow reads the next row into a value slice of len(cols).
func scanRow(rows store.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, eris.Wrap(err, "export: scan row")
	}
	return vals, nil
}

func writeCSV(path string, cols []string, rows store.Rows) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return 0, eris.Wrap(err, "export: write header")
	}

	n := 0
	record := make([]string, len(cols))
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return n, err
		}
		for i, v := range vals {
			record[i] = cellString(v)
		}
		if err := w.Write(record); err != nil {
			return n, eris.Wrap(err, "export: write row")
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, eris.Wrap(err, "export: iterate rows")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return n, eris.Wrap(err, "export: flush csv")
	}
	return n, f.Close()
}

func writeJSONL(path string, cols []string, rows store.Rows) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	n := 0
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return n, err
		}
		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c] = jsonValue(vals[i])
		}
		if err := enc.Encode(record); err != nil {
			return n, eris.Wrap(err, "export: encode row")
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, eris.Wrap(err, "export: iterate rows")
	}
	return n, f.Close()
}

func writeXLSX(path, sheetName string, cols []string, rows store.Rows) (int, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().Value = c
	}

	n := 0
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return n, err
		}
		row := sheet.AddRow()
		for _, v := range vals {
			row.AddCell().Value = cellString(v)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, eris.Wrap(err, "export: iterate rows")
	}

	if err := file.Save(path); err != nil {
		return n, eris.Wrapf(err, "export: save %s", path)
	}
	return n, nil
}

// cellString renders a scanned value for text formats.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// jsonValue normalizes driver types for JSON encoding.
func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
