package utils

import (
	"os"
	"path/filepath"
	"testing"

	"wablast/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenRowSource(t *testing.T) {
	src, err := OpenRowSource("contacts.csv")
	require.NoError(t, err)
	assert.IsType(t, &CSVSource{}, src)

	src, err = OpenRowSource("contacts.XLSX")
	require.NoError(t, err)
	assert.IsType(t, &ExcelSource{}, src)

	_, err = OpenRowSource("contacts.pdf")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCSVSourceRead(t *testing.T) {
	path := writeCSV(t, "phone,name\n6281111,Andi\n6282222,Budi\n6283333,Citra\n6284444,Dewi\n6285555,Eka\n")

	src := &CSVSource{Path: path}
	rows, err := src.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// 1-based data-row numbering, header excluded
	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, 5, rows[4].Number)
	assert.Equal(t, "6281111", rows[0].Values["phone"])
	assert.Equal(t, "Andi", rows[0].Values["name"])
}

func TestCSVSourceBounds(t *testing.T) {
	path := writeCSV(t, "phone,name\n1,a\n2,b\n3,c\n4,d\n5,e\n")
	src := &CSVSource{Path: path}

	rows, err := src.Read(2, 4)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, 4, rows[2].Number)

	// endRow 0 means until exhausted
	rows, err = src.Read(4, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Number)

	// window past the end
	rows, err = src.Read(10, 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCSVSourceRaggedAndWhitespace(t *testing.T) {
	path := writeCSV(t, "phone, name ,\n 6281111 ,Andi\n6282222\n")
	src := &CSVSource{Path: path}

	rows, err := src.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// header and cells trimmed, empty header columns dropped
	assert.Equal(t, "6281111", rows[0].Values["phone"])
	assert.Equal(t, "Andi", rows[0].Values["name"])

	// short record pads missing columns with empty strings
	assert.Equal(t, "6282222", rows[1].Values["phone"])
	assert.Equal(t, "", rows[1].Values["name"])
}

func TestCSVSourceHeaderOnly(t *testing.T) {
	path := writeCSV(t, "phone,name\n")
	src := &CSVSource{Path: path}

	rows, err := src.Read(0, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExcelSourceRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"phone", "name"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"6281111", "Andi"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]string{"6282222", "Budi"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]string{"6283333", "Citra"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	src := &ExcelSource{Path: path}
	rows, err := src.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, "Budi", rows[1].Values["name"])

	rows, err = src.Read(2, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "6282222", rows[0].Values["phone"])
}

func TestApplyColumnMapping(t *testing.T) {
	values := map[string]string{"nomor": "6281111", "nama": "Andi"}

	mapped := ApplyColumnMapping(map[string]string{"phone": "nomor", "name": "nama"}, values)
	assert.Equal(t, "6281111", mapped["phone"])
	assert.Equal(t, "Andi", mapped["name"])

	// original columns stay addressable for templates
	assert.Equal(t, "Andi", mapped["nama"])

	// empty mapping passes through
	same := ApplyColumnMapping(nil, values)
	assert.Equal(t, values, same)

	// mapping a column the row does not have leaves the field unset
	mapped = ApplyColumnMapping(map[string]string{"phone": "missing"}, values)
	_, ok := mapped["phone"]
	assert.False(t, ok)
}
