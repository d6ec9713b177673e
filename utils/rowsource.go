package utils

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wablast/apperrors"

	"github.com/xuri/excelize/v2"
)

// Row is one record from a recipient source. Number is the 1-based data-row
// ordinal (the header row is not counted).
type Row struct {
	Number int
	Values map[string]string
}

// RowSource reads an ordered, finite sequence of rows. A fresh Read starts
// from startRow again; sources are not restartable mid-stream.
type RowSource interface {
	Read(startRow, endRow int) ([]Row, error)
}

// OpenRowSource resolves a reader from the file extension.
func OpenRowSource(path string) (RowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVSource{Path: path}, nil
	case ".xlsx":
		return &ExcelSource{Path: path}, nil
	default:
		return nil, apperrors.NewValidation("unsupported source file type: %s", filepath.Ext(path))
	}
}

// CSVSource reads a comma-separated file whose first record is the header.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Read(startRow, endRow int) ([]Row, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []Row
	num := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		num++
		if !inBounds(num, startRow, endRow) {
			continue
		}
		rows = append(rows, Row{Number: num, Values: zipRecord(header, record)})
	}
	return rows, nil
}

// ExcelSource reads the first sheet of an .xlsx workbook; row 1 is the header.
type ExcelSource struct {
	Path string
}

func (s *ExcelSource) Read(startRow, endRow int) ([]Row, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	header := all[0]
	var rows []Row
	for i, record := range all[1:] {
		num := i + 1
		if !inBounds(num, startRow, endRow) {
			continue
		}
		rows = append(rows, Row{Number: num, Values: zipRecord(header, record)})
	}
	return rows, nil
}

func inBounds(num, startRow, endRow int) bool {
	if startRow > 0 && num < startRow {
		return false
	}
	if endRow > 0 && num > endRow {
		return false
	}
	return true
}

func zipRecord(header, record []string) map[string]string {
	values := make(map[string]string, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if i < len(record) {
			values[col] = strings.TrimSpace(record[i])
		} else {
			values[col] = ""
		}
	}
	return values
}

// ApplyColumnMapping renames source columns to the campaign's field names.
// An empty mapping passes the row through untouched.
func ApplyColumnMapping(mapping map[string]string, values map[string]string) map[string]string {
	if len(mapping) == 0 {
		return values
	}
	mapped := make(map[string]string, len(values))
	for k, v := range values {
		mapped[k] = v
	}
	for field, sourceCol := range mapping {
		if v, ok := values[sourceCol]; ok {
			mapped[field] = v
		}
	}
	return mapped
}
