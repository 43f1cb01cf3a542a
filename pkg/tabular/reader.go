package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ErrUnsupportedInput is returned for files that are neither delimited
// text nor a spreadsheet workbook. It fires before any artifact is
// written.
var ErrUnsupportedInput = errors.New("unsupported input type")

const previewRowLimit = 5

// ReadPreview parses the first five raw rows of an input file. For
// workbooks the first sheet is used, with no header inference and
// missing cells as empty strings. The sheet name is returned for
// workbooks and empty for delimited text.
func ReadPreview(data []byte, filename string) (rows [][]string, sheetName string, err error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return readXLSXRows(data, "", previewRowLimit)
	case ".xls":
		return readXLSRows(data, "", previewRowLimit)
	case ".csv":
		rows, err = readCSVRows(data, previewRowLimit)
		return rows, "", err
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedInput, filename)
	}
}

// ReadAllRows parses every raw row of an input file. sheetName selects
// the workbook sheet; an empty name means the first sheet.
func ReadAllRows(data []byte, filename, sheetName string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		rows, _, err := readXLSXRows(data, sheetName, 0)
		return rows, err
	case ".xls":
		rows, _, err := readXLSRows(data, sheetName, 0)
		return rows, err
	case ".csv":
		return readCSVRows(data, 0)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, filename)
	}
}

func readXLSXRows(data []byte, sheetName string, limit int) ([][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, "", errors.New("workbook has no sheets")
		}
		sheetName = sheets[0]
	}
	all, err := f.GetRows(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return squareRows(all), sheetName, nil
}

func readXLSRows(data []byte, sheetName string, limit int) ([][]string, string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, "", fmt.Errorf("failed to open legacy workbook: %w", err)
	}

	sheetIdx := 0
	if sheetName != "" {
		found := false
		for i := 0; i < wb.NumSheets(); i++ {
			if ws := wb.GetSheet(i); ws != nil && ws.Name == sheetName {
				sheetIdx, found = i, true
				break
			}
		}
		if !found {
			return nil, "", fmt.Errorf("sheet %q not found", sheetName)
		}
	}
	sheet := wb.GetSheet(sheetIdx)
	if sheet == nil {
		return nil, "", errors.New("workbook has no sheets")
	}

	var rows [][]string
	for r := 0; r <= int(sheet.MaxRow); r++ {
		if limit > 0 && len(rows) >= limit {
			break
		}
		row := sheet.Row(r)
		var cells []string
		if row != nil {
			cells = make([]string, row.LastCol()+1)
			for c := row.FirstCol(); c <= row.LastCol(); c++ {
				cells[c] = row.Col(c)
			}
		}
		rows = append(rows, cells)
	}
	return squareRows(rows), sheet.Name, nil
}

func readCSVRows(data []byte, limit int) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(decodeText(data)))
	reader.FieldsPerRecord = -1 // rows may be ragged

	var rows [][]string
	for {
		if limit > 0 && len(rows) >= limit {
			break
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// decodeText strips a UTF-8 BOM and, when the bytes are not valid
// UTF-8, reinterprets them as Windows-1252 — the usual culprit for
// spreadsheets exported on older desktops.
func decodeText(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return data
	}
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return data
	}
	return decoded
}

// squareRows pads every row to the widest row so positional access
// never goes out of range.
func squareRows(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		padded := make([]string, width)
		copy(padded, row)
		out[i] = padded
	}
	return out
}
