package dataset

import (
	"fmt"
	"math"
	"sort"
)

// FillMissing 按指定方法填充数值列的缺失值，非数值列始终用众数填充。
//   - "Constant=0": 缺失 -> 0
//   - "Mean": 均值填充
//   - "Median": 中位数填充
//   - "Mode": 众数填充
//   - "None" 或空: 数值列不做处理
//
// 原表就地修改。
func FillMissing(f *Frame, method string) error {
	if method == "" {
		method = "None"
	}
	switch method {
	case "None", "Constant=0", "Mean", "Median", "Mode":
	default:
		return fmt.Errorf("unsupported fill_missing_method: %q", method)
	}

	for col := 0; col < f.NumCols(); col++ {
		if f.IsNumericColumn(col) {
			fillNumeric(f, col, method)
		} else {
			fillCategoricalMode(f, col)
		}
	}
	return nil
}

// fillNumeric 填充数值列
func fillNumeric(f *Frame, col int, method string) {
	if method == "None" {
		return
	}

	var fill float64
	switch method {
	case "Constant=0":
		fill = 0
	case "Mean":
		fill = columnMean(f, col)
	case "Median":
		fill = columnMedian(f, col)
	case "Mode":
		fill = columnModeNumeric(f, col)
	}
	if math.IsNaN(fill) {
		return
	}

	formatted := FormatFloat(fill)
	for row := 0; row < f.NumRows(); row++ {
		if IsMissing(f.Cell(row, col)) {
			f.SetCell(row, col, formatted)
		}
	}
}

// fillCategoricalMode 非数值列用众数填充；全列缺失时保持不变
func fillCategoricalMode(f *Frame, col int) {
	counts := make(map[string]int)
	for row := 0; row < f.NumRows(); row++ {
		if v := f.Cell(row, col); !IsMissing(v) {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return
	}

	mode := ""
	best := -1
	for value, count := range counts {
		if count > best || (count == best && value < mode) {
			mode = value
			best = count
		}
	}
	for row := 0; row < f.NumRows(); row++ {
		if IsMissing(f.Cell(row, col)) {
			f.SetCell(row, col, mode)
		}
	}
}

// columnMean 非缺失值的均值，全缺失返回NaN
func columnMean(f *Frame, col int) float64 {
	sum, n := 0.0, 0
	for _, v := range f.FloatColumn(col) {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// columnMedian 非缺失值的中位数，全缺失返回NaN
func columnMedian(f *Frame, col int) float64 {
	values := make([]float64, 0, f.NumRows())
	for _, v := range f.FloatColumn(col) {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// columnModeNumeric 数值列众数，并列时取较小值，全缺失返回NaN
func columnModeNumeric(f *Frame, col int) float64 {
	counts := make(map[float64]int)
	for _, v := range f.FloatColumn(col) {
		if !math.IsNaN(v) {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return math.NaN()
	}
	mode := math.NaN()
	best := -1
	for value, count := range counts {
		if count > best || (count == best && value < mode) {
			mode = value
			best = count
		}
	}
	return mode
}
