package importer

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"rollcall/internal/roster"
)

// MaxFileSize is the largest spreadsheet accepted for import.
const MaxFileSize = 5 << 20

// maxXLSRows bounds how many rows are read from a legacy workbook.
const maxXLSRows = 100000

// ValidateFile checks the spreadsheet extension and size before decoding.
func ValidateFile(filename string, size int64) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
	default:
		return &roster.MalformedInputError{Reason: "only .xlsx and .xls files are accepted"}
	}
	if size > MaxFileSize {
		return &roster.MalformedInputError{Reason: "file exceeds the 5MB limit"}
	}
	return nil
}

// ReadRows decodes the first worksheet of an .xlsx or .xls file into rows of
// cell text.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(io.LimitReader(reader, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	if err := ValidateFile(filename, int64(len(data))); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(filename), ".xls") {
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, &roster.MalformedInputError{Reason: "unreadable .xls file: " + err.Error()}
		}
		sheet := workbook.GetSheet(0)
		if sheet == nil {
			return nil, &roster.MalformedInputError{Reason: "no worksheet found"}
		}
		if sheet.MaxRow == 0 {
			return [][]string{}, nil
		}
		// ReadAllCells walks every worksheet in order until max rows are read;
		// capping max at the first sheet's row count stops it there.
		return workbook.ReadAllCells(min(int(sheet.MaxRow)+1, maxXLSRows)), nil
	}

	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &roster.MalformedInputError{Reason: "unreadable .xlsx file: " + err.Error()}
	}
	defer func() { _ = file.Close() }()

	sheet := file.GetSheetName(0)
	if sheet == "" {
		return nil, &roster.MalformedInputError{Reason: "no worksheet found"}
	}
	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %s: %w", sheet, err)
	}
	return rows, nil
}

// StageFile decodes a spreadsheet and stages its rows.
func (r *Reconciler) StageFile(reader io.Reader, filename string) ([]roster.Candidate, error) {
	rows, err := ReadRows(reader, filename)
	if err != nil {
		return nil, err
	}
	return r.Stage(Cells(rows)), nil
}
