// Package export writes every collection of the record store to an xlsx
// workbook, one sheet per entity type.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// Source lists the collections to export.
type Source interface {
	ListTypes(ctx context.Context) ([]string, error)
	List(ctx context.Context, entityType string) ([]*models.Entity, error)
}

// Workbook builds a workbook with one sheet per entity type, in store order.
// The header row holds every field seen in the collection, in first-seen order.
// The caller must Close the returned file.
func Workbook(ctx context.Context, src Source) (*excelize.File, error) {
	types, err := src.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}

	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	used := make(map[string]bool)
	for i, entityType := range types {
		records, err := src.List(ctx, entityType)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("list %s: %w", entityType, err)
		}
		sheet := SheetName(entityType, used)
		if i == 0 {
			err = f.SetSheetName("Sheet1", sheet)
		} else {
			_, err = f.NewSheet(sheet)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		if err := writeSheet(f, sheet, records, bold); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Write streams the workbook of src to w.
func Write(ctx context.Context, w io.Writer, src Source) error {
	f, err := Workbook(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, records []*models.Entity, headerStyle int) error {
	columns := Columns(records)
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header of %s: %w", sheet, err)
	}
	if len(columns) > 0 {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("style header of %s: %w", sheet, err)
		}
	}
	for r, e := range records {
		row := make([]interface{}, len(columns))
		for i, c := range columns {
			v, _ := e.Get(c)
			row[i] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d of %s: %w", r+2, sheet, err)
		}
	}
	return nil
}

// Columns returns the union of record keys in first-seen order.
func Columns(records []*models.Entity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range records {
		for _, k := range e.Keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// cellValue keeps numbers and booleans typed and renders the rest as text.
func cellValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case bool, int, int64, float64:
		return t
	case []interface{}:
		for _, item := range t {
			switch item.(type) {
			case map[string]interface{}, []interface{}:
				return schema.FormatValue(t)
			}
		}
		return strings.Join(models.StringList(t), ", ")
	default:
		return schema.FormatValue(t)
	}
}

// SheetName turns an entity type into a unique, valid sheet name and records
// it in used.
func SheetName(entityType string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, entityType)
	if name == "" {
		name = "Sheet"
	}
	name = truncateRunes(name, maxSheetName)
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
