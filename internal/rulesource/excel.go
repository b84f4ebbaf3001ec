package rulesource

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"upbitmt/internal/logger"

	"github.com/xuri/excelize/v2"
)

// builtinNumFmts are the spreadsheet built-in number formats the parser cares
// about: percentages and dates.
var builtinNumFmts = map[int]string{
	9:  "0%",
	10: "0.00%",
	14: "yyyy-mm-dd",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	22: "yyyy-mm-dd h:mm",
}

// ExcelSource reads the active sheet of an .xlsx workbook. The first row
// containing a known header is the header row.
type ExcelSource struct {
	path   string
	parser *Parser
}

func NewExcelSource(path string, parser *Parser) *ExcelSource {
	return &ExcelSource{path: path, parser: parser}
}

func (s *ExcelSource) Path() string { return s.path }

func (s *ExcelSource) LoadRules(ctx context.Context) (Result, error) {
	rows, err := s.readRows(ctx)
	if err != nil {
		return Result{}, err
	}
	rules, rejected := s.parser.ParseRows(rows)
	return Result{Rules: rules, Rejected: rejected}, nil
}

func (s *ExcelSource) readRows(ctx context.Context) ([]Row, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		return nil, fmt.Errorf("workbook %s has no active sheet", s.path)
	}
	grid, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	headerIdx := -1
	columns := map[int]Field{}
	for i, cells := range grid {
		cols := map[int]Field{}
		for c, v := range cells {
			if field, ok := fieldForHeader(v); ok {
				cols[c] = field
			}
		}
		if _, ok := findField(cols, FieldAsset); ok {
			headerIdx, columns = i, cols
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("sheet %q of %s has no 종목명 header", sheet, filepath.Base(s.path))
	}

	formats := map[int]string{}
	out := make([]Row, 0, len(grid)-headerIdx-1)
	for i := headerIdx + 1; i < len(grid); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		excelRow := i + 1
		row := Row{Number: excelRow, Cells: make(map[Field]Cell, len(columns))}
		for c, field := range columns {
			var val string
			if c < len(grid[i]) {
				val = grid[i][c]
			}
			if strings.TrimSpace(val) == "" {
				continue
			}
			row.Cells[field] = Cell{Value: val, Format: s.cellFormat(f, sheet, c+1, excelRow, formats)}
		}
		out = append(out, row)
	}
	logger.Debugf("rulesource: read %d rows from %s!%s", len(out), filepath.Base(s.path), sheet)
	return out, nil
}

// cellFormat returns the number format string of a cell, "" when unknown.
// Results are cached per style id.
func (s *ExcelSource) cellFormat(f *excelize.File, sheet string, col, row int, cache map[int]string) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return ""
	}
	styleID, err := f.GetCellStyle(sheet, name)
	if err != nil || styleID == 0 {
		return ""
	}
	if fmtStr, ok := cache[styleID]; ok {
		return fmtStr
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		cache[styleID] = ""
		return ""
	}
	fmtStr := builtinNumFmts[style.NumFmt]
	if style.CustomNumFmt != nil {
		fmtStr = *style.CustomNumFmt
	}
	cache[styleID] = fmtStr
	return fmtStr
}

func findField(cols map[int]Field, want Field) (int, bool) {
	for c, f := range cols {
		if f == want {
			return c, true
		}
	}
	return 0, false
}
