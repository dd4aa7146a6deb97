package routine

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// Sheet is the first worksheet of a workbook held in memory as strings. The
// first row is the header.
type Sheet struct {
	header []string
	rows   [][]string
}

func NewSheet(header ...string) *Sheet {
	return &Sheet{header: append([]string(nil), header...)}
}

// ReadSheet loads the first worksheet of the xlsx file at path.
func ReadSheet(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheets[0], err)
	}

	s := &Sheet{}
	if len(rows) == 0 {
		return s, nil
	}
	for _, h := range rows[0] {
		s.header = append(s.header, strings.TrimSpace(h))
	}
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		s.rows = append(s.rows, row)
	}
	return s, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Len is the number of data rows.
func (s *Sheet) Len() int {
	return len(s.rows)
}

// Width is the number of header columns.
func (s *Sheet) Width() int {
	return len(s.header)
}

func (s *Sheet) Header() []string {
	return append([]string(nil), s.header...)
}

// Col returns the index of the first header matching any of names, or -1.
// Matching ignores case, spaces and underscores, so "Farmer ID",
// "farmer_id" and "farmerId" are the same column.
func (s *Sheet) Col(names ...string) int {
	for _, name := range names {
		want := normalize(name)
		for i, h := range s.header {
			if normalize(h) == want {
				return i
			}
		}
	}
	return -1
}

// ColOr is Col with a positional fallback.
func (s *Sheet) ColOr(fallback int, names ...string) int {
	if i := s.Col(names...); i >= 0 {
		return i
	}
	if fallback < len(s.header) {
		return fallback
	}
	return -1
}

// EnsureCol returns the index of the named column, appending it when the
// header does not have it yet.
func (s *Sheet) EnsureCol(name string) int {
	if i := s.Col(name); i >= 0 {
		return i
	}
	s.header = append(s.header, name)
	return len(s.header) - 1
}

// Get returns the trimmed cell value, "" for missing cells. A numeric value
// written as a float with zero fraction ("123.0") is returned without it.
func (s *Sheet) Get(row, col int) string {
	if row < 0 || row >= len(s.rows) || col < 0 || col >= len(s.rows[row]) {
		return ""
	}
	v := strings.TrimSpace(s.rows[row][col])
	if strings.EqualFold(v, "nan") {
		return ""
	}
	if n, ok := strings.CutSuffix(v, ".0"); ok && n != "" && strings.Trim(n, "0123456789") == "" {
		return n
	}
	return v
}

func (s *Sheet) Set(row, col int, value string) {
	if row < 0 || row >= len(s.rows) || col < 0 {
		return
	}
	for len(s.rows[row]) <= col {
		s.rows[row] = append(s.rows[row], "")
	}
	s.rows[row][col] = value
}

func (s *Sheet) AppendRow(values ...string) {
	s.rows = append(s.rows, append([]string(nil), values...))
}

// Save writes the sheet as a new workbook to path.
func (s *Sheet) Save(path string) error {
	f, err := s.workbook()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Write writes the sheet as a workbook to w.
func (s *Sheet) Write(w io.Writer) error {
	f, err := s.workbook()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (s *Sheet) workbook() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetRow(defaultSheet, "A1", &s.header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(defaultSheet, cell, &row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return f, nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "").Replace(s)
}
