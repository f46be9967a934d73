// Package tabular reads export files into rows of raw cells.
//
// Delimited text is decoded as UTF-8 (with or without a byte order mark)
// and falls back to CP949/EUC-KR, the encoding Korean spreadsheet tools
// default to. Workbooks are read sheet by sheet. Rows are returned with
// every cell as text; deciding what is missing happens later in core.Clean.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/khg9859/Eternal/internal/core"
)

// Format identifies a file type by extension.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatXLSX
)

// Encoding names reported by Decode.
const (
	EncodingUTF8  = "utf-8"
	EncodingEUCKR = "euc-kr"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat returns the format implied by the file name.
func DetectFormat(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// Decode returns data as UTF-8 with any byte order mark removed, and the name
// of the encoding it was read as. Input that is neither valid UTF-8 nor clean
// EUC-KR yields core.ErrEncoding.
func Decode(data []byte) ([]byte, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data, EncodingUTF8, nil
	}

	decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrEncoding, err)
	}
	// The decoder substitutes U+FFFD for byte sequences it cannot map.
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil, "", fmt.Errorf("%w: not utf-8 or euc-kr", core.ErrEncoding)
	}
	return decoded, EncodingEUCKR, nil
}

// ReadCSV decodes and parses delimited text. Rows may be ragged.
func ReadCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, core.ErrEmptyFile
	}

	text, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	return rows, nil
}

// Workbook is an opened spreadsheet.
type Workbook struct {
	f *excelize.File
}

// OpenWorkbook reads a whole XLSX workbook from r.
func OpenWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{f: f}, nil
}

// ErrNoSheet is returned when a sheet index is out of range.
var ErrNoSheet = errors.New("sheet not found")

// SheetCount returns the number of sheets.
func (w *Workbook) SheetCount() int {
	return len(w.f.GetSheetList())
}

// Rows returns the cells of the sheet at index, padded so every row has the
// width of the widest row. Merged cells carry their value in the first cell
// only.
func (w *Workbook) Rows(index int) ([][]string, error) {
	sheets := w.f.GetSheetList()
	if index < 0 || index >= len(sheets) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoSheet, index, len(sheets))
	}

	rows, err := w.f.GetRows(sheets[index])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[index], err)
	}
	return pad(rows), nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// ReadSheet opens a workbook and returns one sheet.
func ReadSheet(r io.Reader, index int) ([][]string, error) {
	wb, err := OpenWorkbook(r)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.Rows(index)
}

func pad(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}
	return rows
}
