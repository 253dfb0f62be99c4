package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Frame 内存中的表格数据。单元格统一保存为字符串，数值解析按需进行。
type Frame struct {
	columns []string
	rows    [][]string
}

// NewFrame 创建空表
func NewFrame(columns []string) *Frame {
	return &Frame{columns: append([]string(nil), columns...)}
}

// Columns 列名
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// NumRows 行数
func (f *Frame) NumRows() int {
	return len(f.rows)
}

// NumCols 列数
func (f *Frame) NumCols() int {
	return len(f.columns)
}

// AppendRow 追加一行
func (f *Frame) AppendRow(row []string) error {
	if len(row) != len(f.columns) {
		return fmt.Errorf("row has %d cells, expected %d", len(row), len(f.columns))
	}
	f.rows = append(f.rows, append([]string(nil), row...))
	return nil
}

// Row 返回第i行
func (f *Frame) Row(i int) []string {
	return append([]string(nil), f.rows[i]...)
}

// Cell 返回单元格值
func (f *Frame) Cell(row, col int) string {
	return f.rows[row][col]
}

// SetCell 写单元格
func (f *Frame) SetCell(row, col int, value string) {
	f.rows[row][col] = value
}

// ColumnIndex 按名称查列下标，不存在返回-1
func (f *Frame) ColumnIndex(name string) int {
	for i, col := range f.columns {
		if col == name {
			return i
		}
	}
	return -1
}

// HasColumn 是否包含指定列
func (f *Frame) HasColumn(name string) bool {
	return f.ColumnIndex(name) >= 0
}

// Column 返回指定列的全部值
func (f *Frame) Column(name string) ([]string, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	values := make([]string, len(f.rows))
	for i, row := range f.rows {
		values[i] = row[idx]
	}
	return values, nil
}

// Clone 深拷贝
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.columns)
	out.rows = make([][]string, len(f.rows))
	for i, row := range f.rows {
		out.rows[i] = append([]string(nil), row...)
	}
	return out
}

// DropColumn 返回去掉指定列的新表，列不存在时原样返回副本
func (f *Frame) DropColumn(name string) *Frame {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return f.Clone()
	}
	columns := make([]string, 0, len(f.columns)-1)
	columns = append(columns, f.columns[:idx]...)
	columns = append(columns, f.columns[idx+1:]...)
	out := NewFrame(columns)
	out.rows = make([][]string, len(f.rows))
	for i, row := range f.rows {
		cells := make([]string, 0, len(columns))
		cells = append(cells, row[:idx]...)
		cells = append(cells, row[idx+1:]...)
		out.rows[i] = cells
	}
	return out
}

// WithColumn 返回追加一列后的新表，行序保持不变
func (f *Frame) WithColumn(name string, values []string) (*Frame, error) {
	if len(values) != len(f.rows) {
		return nil, fmt.Errorf("column %q has %d values, expected %d", name, len(values), len(f.rows))
	}
	if f.HasColumn(name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	out := NewFrame(append(f.Columns(), name))
	out.rows = make([][]string, len(f.rows))
	for i, row := range f.rows {
		out.rows[i] = append(append([]string(nil), row...), values[i])
	}
	return out, nil
}

// Head 返回前n行的新表
func (f *Frame) Head(n int) *Frame {
	if n > len(f.rows) {
		n = len(f.rows)
	}
	out := NewFrame(f.columns)
	out.rows = make([][]string, n)
	for i := 0; i < n; i++ {
		out.rows[i] = append([]string(nil), f.rows[i]...)
	}
	return out
}

// missingTokens 视为缺失值的字面量
var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

// IsMissing 判断单元格是否为缺失值
func IsMissing(value string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(value))]
}

// ParseFloat 解析数值单元格，缺失或非法返回NaN
func ParseFloat(value string) float64 {
	if IsMissing(value) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// FormatFloat 数值写回单元格的统一格式
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IsNumericColumn 列中所有非缺失值均可解析为数值时视为数值列。
// 全缺失的列不视为数值列。
func (f *Frame) IsNumericColumn(idx int) bool {
	seen := false
	for _, row := range f.rows {
		if IsMissing(row[idx]) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// FloatColumn 将指定列解析为float64切片，缺失值为NaN
func (f *Frame) FloatColumn(idx int) []float64 {
	values := make([]float64, len(f.rows))
	for i, row := range f.rows {
		values[i] = ParseFloat(row[idx])
	}
	return values
}

// Records 将表转换为map记录列表，数值列转为float64，用于JSON响应
func (f *Frame) Records() []map[string]interface{} {
	numeric := make([]bool, len(f.columns))
	for i := range f.columns {
		numeric[i] = f.IsNumericColumn(i)
	}
	records := make([]map[string]interface{}, len(f.rows))
	for i, row := range f.rows {
		rec := make(map[string]interface{}, len(f.columns))
		for j, col := range f.columns {
			switch {
			case IsMissing(row[j]):
				rec[col] = nil
			case numeric[j]:
				rec[col] = ParseFloat(row[j])
			default:
				rec[col] = row[j]
			}
		}
		records[i] = rec
	}
	return records
}

// ReadCSV 从reader读取CSV为Frame，首行为表头
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	frame := NewFrame(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		// 行宽不齐时右侧补空
		if len(record) < len(header) {
			padded := make([]string, len(header))
			copy(padded, record)
			record = padded
		} else if len(record) > len(header) {
			record = record[:len(header)]
		}
		frame.rows = append(frame.rows, record)
	}
	return frame, nil
}

// ReadCSVFile 从文件读取CSV
func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	return ReadCSV(file)
}

// WriteCSV 将表写出为CSV
func (f *Frame) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range f.rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile 将表写出到文件
func (f *Frame) WriteCSVFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
