package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// MaxFileBytes 是名册文件允许的最大体积（5 MiB）。
const MaxFileBytes = 5 * 1024 * 1024

var (
	// ErrInvalidFormat 表示媒体类型不在受支持的名册格式之内。
	ErrInvalidFormat = errors.New("unsupported spreadsheet format")
	// ErrTooLarge 表示文件超出大小上限。
	ErrTooLarge = errors.New("file exceeds size limit")
)

// RawRow 是一行原始数据：表头 → 单元格取值。
type RawRow map[string]string

// Sheet 保存解析后的表头顺序与全部数据行。
// 空表不视为错误，Rows 为空切片。
type Sheet struct {
	Headers []string
	Rows    []RawRow
}

// Parse 将上传的名册解析为 Sheet。纯解析，无副作用。
// 支持 .xlsx / .xls / .csv，依据声明的媒体类型与文件扩展名判定。
func Parse(r io.Reader, filename, contentType string, maxBytes int64) (*Sheet, error) {
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}

	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, err
	}

	switch detectFormat(filename, contentType) {
	case formatCSV:
		return parseCSV(data)
	case formatXLSX:
		return parseXLSX(data)
	case formatXLS:
		return parseXLS(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, displayType(filename, contentType))
	}
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatCSV
	formatXLSX
	formatXLS
)

func detectFormat(filename, contentType string) fileFormat {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "text/csv", "application/csv":
		return formatCSV
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return formatXLSX
	case "application/vnd.ms-excel":
		// 浏览器对 .csv 也可能声明该类型，以扩展名兜底。
		if strings.EqualFold(filepath.Ext(filename), ".csv") {
			return formatCSV
		}
		return formatXLS
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return formatCSV
	case ".xlsx":
		return formatXLSX
	case ".xls":
		return formatXLS
	}
	return formatUnknown
}

func displayType(filename, contentType string) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		return ct
	}
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return "unknown"
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func parseCSV(data []byte) (*Sheet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return sheetFromRecords(records), nil
}

func parseXLSX(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Sheet{Rows: []RawRow{}}, nil
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return sheetFromRecords(records), nil
}

const maxXLSRows = 65536

func parseXLS(data []byte) (*Sheet, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	records := wb.ReadAllCells(maxXLSRows)
	return sheetFromRecords(records), nil
}

// sheetFromRecords 把第一行当表头，其余行映射为 RawRow。
// 行长与表头不一致时按最短长度截断，多余单元格丢弃。
func sheetFromRecords(records [][]string) *Sheet {
	sheet := &Sheet{Rows: []RawRow{}}
	if len(records) == 0 {
		return sheet
	}

	headers := make([]string, 0, len(records[0]))
	for _, h := range records[0] {
		headers = append(headers, strings.TrimSpace(h))
	}
	sheet.Headers = headers

	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := make(RawRow, len(headers))
		for i, header := range headers {
			if header == "" || i >= len(record) {
				continue
			}
			row[header] = strings.TrimSpace(record[i])
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
