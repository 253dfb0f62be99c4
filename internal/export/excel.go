package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/engine"
	"AutoMLTrainPlatform/internal/session"
)

// 导出工作簿的固定sheet名
const (
	SheetPrediction        = "Prediction"
	SheetLeaderboard       = "Leaderboard"
	SheetTrainingParams    = "TrainingParams"
	SheetFeatureImportance = "FeatureImportance"
)

// 最佳模型行的高亮配色
const (
	bestRowFillColor = "C6EFCE"
	bestRowFontColor = "006100"
)

// Workbook 一次会话导出所需的全部数据
type Workbook struct {
	Prediction        *dataset.Frame
	Leaderboard       []engine.LeaderboardRow
	Params            *session.TrainingParameters
	FeatureImportance []engine.FeatureImportanceRow
}

// WriteXLSX 生成多sheet的Excel工作簿并写入w：预测结果、
// 排行榜（验证分数最高的行绿色高亮）、训练参数、特征重要性。
// 排行榜、参数和特征重要性缺失时跳过对应sheet，预测结果必须存在。
func WriteXLSX(w io.Writer, wb *Workbook) error {
	if wb == nil || wb.Prediction == nil {
		return fmt.Errorf("prediction frame is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	// excelize默认创建Sheet1，直接改名复用为预测结果sheet
	if err := f.SetSheetName("Sheet1", SheetPrediction); err != nil {
		return err
	}
	if err := writeFrameSheet(f, SheetPrediction, wb.Prediction); err != nil {
		return err
	}

	if len(wb.Leaderboard) > 0 {
		if err := writeLeaderboardSheet(f, wb.Leaderboard); err != nil {
			return err
		}
	}
	if wb.Params != nil {
		if err := writeParamsSheet(f, wb.Params); err != nil {
			return err
		}
	}
	if len(wb.FeatureImportance) > 0 {
		if err := writeImportanceSheet(f, wb.FeatureImportance); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// writeFrameSheet 把数据框逐行写入指定sheet，数值单元格写为数字类型
func writeFrameSheet(f *excelize.File, sheet string, frame *dataset.Frame) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := make([]interface{}, frame.NumCols())
	for i, col := range frame.Columns() {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	numeric := make([]bool, frame.NumCols())
	for i := 0; i < frame.NumCols(); i++ {
		numeric[i] = frame.IsNumericColumn(i)
	}
	for r := 0; r < frame.NumRows(); r++ {
		row := frame.Row(r)
		cells := make([]interface{}, len(row))
		for c, v := range row {
			if dataset.IsMissing(v) {
				cells[c] = nil
			} else if numeric[c] {
				cells[c] = dataset.ParseFloat(v)
			} else {
				cells[c] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

// writeLeaderboardSheet 写出排行榜并高亮最佳模型所在行
func writeLeaderboardSheet(f *excelize.File, rows []engine.LeaderboardRow) error {
	if _, err := f.NewSheet(SheetLeaderboard); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetLeaderboard, "A1",
		&[]interface{}{"model", "score_val", "fit_time"}); err != nil {
		return err
	}
	bestRow := 0
	for i, row := range rows {
		if row.ScoreVal > rows[bestRow].ScoreVal {
			bestRow = i
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetLeaderboard, cell,
			&[]interface{}{row.Model, row.ScoreVal, row.FitTime}); err != nil {
			return err
		}
	}

	styleID, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{bestRowFillColor}},
		Font: &excelize.Font{Color: bestRowFontColor},
	})
	if err != nil {
		return err
	}
	top, err := excelize.CoordinatesToCellName(1, bestRow+2)
	if err != nil {
		return err
	}
	bottom, err := excelize.CoordinatesToCellName(3, bestRow+2)
	if err != nil {
		return err
	}
	return f.SetCellStyle(SheetLeaderboard, top, bottom, styleID)
}

// writeParamsSheet 训练参数以键值对两列写出
func writeParamsSheet(f *excelize.File, params *session.TrainingParameters) error {
	if _, err := f.NewSheet(SheetTrainingParams); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"parameter", "value"},
		{"target_column", params.TargetColumn},
		{"fill_missing_method", params.FillMissingMethod},
		{"evaluation_metric", params.EvaluationMetric},
		{"models_to_train", modelListLabel(params.ModelsToTrain)},
		{"preset", params.Preset},
		{"problem_type", params.ProblemType},
		{"training_time_limit", params.TrainingTimeLimit},
		{"upload_table_name", params.UploadTableName},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetTrainingParams, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeImportanceSheet(f *excelize.File, rows []engine.FeatureImportanceRow) error {
	if _, err := f.NewSheet(SheetFeatureImportance); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetFeatureImportance, "A1",
		&[]interface{}{"feature", "importance"}); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetFeatureImportance, cell,
			&[]interface{}{row.Feature, row.Importance}); err != nil {
			return err
		}
	}
	return nil
}

func modelListLabel(models session.ModelList) string {
	if models.TrainAll() {
		return "all"
	}
	label := ""
	for i, m := range models {
		if i > 0 {
			label += ", "
		}
		label += m
	}
	return label
}
