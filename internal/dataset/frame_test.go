package dataset

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReadCSV 基本解析，行长不齐时补齐或截断
func TestReadCSV(t *testing.T) {
	raw := "name,age,city\nalice,30,moscow\nbob,25\ncarol,40,kazan,extra\n"
	f, err := ReadCSV(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age", "city"}, f.Columns())
	require.Equal(t, 3, f.NumRows())
	assert.Equal(t, "", f.Cell(1, 2))
	assert.Equal(t, "kazan", f.Cell(2, 2))
}

// TestReadCSVEmpty 空输入报错
func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}

// TestIsMissing 缺失值标记的各种写法
func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "NA", "n/a", "NaN", "null", "None", "  "} {
		assert.True(t, IsMissing(v), "expected %q to be missing", v)
	}
	for _, v := range []string{"0", "false", "-", "moscow"} {
		assert.False(t, IsMissing(v), "expected %q to be present", v)
	}
}

// TestIsNumericColumn 全部非缺失值可解析才算数值列
func TestIsNumericColumn(t *testing.T) {
	f := NewFrame([]string{"num", "mixed", "empty"})
	require.NoError(t, f.AppendRow([]string{"1.5", "1", ""}))
	require.NoError(t, f.AppendRow([]string{"", "x", ""}))
	require.NoError(t, f.AppendRow([]string{"-3", "2", ""}))

	assert.True(t, f.IsNumericColumn(0))
	assert.False(t, f.IsNumericColumn(1))
	// 全缺失列不算数值列
	assert.False(t, f.IsNumericColumn(2))
}

// TestDropAndWithColumn 删除目标列再拼接预测列，行序保持
func TestDropAndWithColumn(t *testing.T) {
	f := NewFrame([]string{"a", "target", "b"})
	require.NoError(t, f.AppendRow([]string{"1", "yes", "x"}))
	require.NoError(t, f.AppendRow([]string{"2", "no", "y"}))

	dropped := f.DropColumn("target")
	assert.Equal(t, []string{"a", "b"}, dropped.Columns())
	assert.Equal(t, 2, dropped.NumRows())

	combined, err := dropped.WithColumn("target", []string{"no", "yes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "target"}, combined.Columns())
	assert.Equal(t, "no", combined.Cell(0, 2))
	assert.Equal(t, "yes", combined.Cell(1, 2))

	// 原frame不受影响
	assert.Equal(t, []string{"a", "target", "b"}, f.Columns())

	_, err = dropped.WithColumn("target", []string{"only-one"})
	assert.Error(t, err)
}

// TestWriteCSVRoundTrip 写出再读回保持内容
func TestWriteCSVRoundTrip(t *testing.T) {
	f := NewFrame([]string{"a", "b"})
	require.NoError(t, f.AppendRow([]string{"1", "hello, world"}))
	require.NoError(t, f.AppendRow([]string{"2", `with "quotes"`}))

	var buf bytes.Buffer
	require.NoError(t, f.WriteCSV(&buf))
	back, err := ReadCSV(&buf)
	require.NoError(t, err)

	assert.Equal(t, f.Columns(), back.Columns())
	assert.Equal(t, "hello, world", back.Cell(0, 1))
	assert.Equal(t, `with "quotes"`, back.Cell(1, 1))
}

// TestHeadAndRecords 预览行数和JSON记录形式
func TestHeadAndRecords(t *testing.T) {
	f := NewFrame([]string{"n", "label"})
	for i := 0; i < 15; i++ {
		require.NoError(t, f.AppendRow([]string{"1.5", "cat"}))
	}
	head := f.Head(10)
	assert.Equal(t, 10, head.NumRows())
	assert.Equal(t, 15, f.NumRows())

	records := head.Records()
	require.Len(t, records, 10)
	assert.Equal(t, 1.5, records[0]["n"])
	assert.Equal(t, "cat", records[0]["label"])
}

// TestParseFloat 缺失和非法值解析为NaN
func TestParseFloat(t *testing.T) {
	assert.Equal(t, 2.5, ParseFloat("2.5"))
	assert.True(t, math.IsNaN(ParseFloat("")))
	assert.True(t, math.IsNaN(ParseFloat("abc")))
}
