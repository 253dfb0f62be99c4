package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/session"
)

// linearFrame y = 2x + 1 的无噪声数据
func linearFrame(t *testing.T, rows int) *dataset.Frame {
	t.Helper()
	f := dataset.NewFrame([]string{"x", "y"})
	for i := 0; i < rows; i++ {
		x := float64(i)
		require.NoError(t, f.AppendRow([]string{
			dataset.FormatFloat(x),
			dataset.FormatFloat(2*x + 1),
		}))
	}
	return f
}

// classFrame 按数值特征完全可分的两类数据
func classFrame(t *testing.T, rows int) *dataset.Frame {
	t.Helper()
	f := dataset.NewFrame([]string{"value", "label"})
	for i := 0; i < rows; i++ {
		label := "low"
		value := float64(i % 10)
		if i%2 == 1 {
			label = "high"
			value = 100 + float64(i%10)
		}
		require.NoError(t, f.AppendRow([]string{dataset.FormatFloat(value), label}))
	}
	return f
}

// TestBaselineFitRegression 线性数据上线性回归应胜出，排行榜降序
func TestBaselineFitRegression(t *testing.T) {
	eng := NewBaseline()
	modelDir := t.TempDir()
	params := &session.TrainingParameters{TargetColumn: "y"}

	result, err := eng.Fit(context.Background(), linearFrame(t, 60), params, modelDir)
	require.NoError(t, err)

	assert.Equal(t, ModelLinearRegression, result.BestModel)
	require.NotEmpty(t, result.Leaderboard)
	assert.Equal(t, ModelLinearRegression, result.Leaderboard[0].Model)
	for i := 1; i < len(result.Leaderboard); i++ {
		assert.GreaterOrEqual(t,
			result.Leaderboard[i-1].ScoreVal, result.Leaderboard[i].ScoreVal)
	}
	assert.FileExists(t, filepath.Join(modelDir, ModelFileName))

	require.Len(t, result.FeatureImportance, 1)
	assert.Equal(t, "x", result.FeatureImportance[0].Feature)

	assert.Equal(t, "regression", result.Summary.ProblemType)
	assert.Equal(t, "root_mean_squared_error", result.Summary.Metric)
	assert.Equal(t, []string{"x"}, result.Summary.FeatureColumns)
}

// TestBaselinePredictAfterRestart 新引擎实例仅凭模型目录即可预测
func TestBaselinePredictAfterRestart(t *testing.T) {
	modelDir := t.TempDir()
	params := &session.TrainingParameters{TargetColumn: "y"}
	_, err := NewBaseline().Fit(context.Background(), linearFrame(t, 60), params, modelDir)
	require.NoError(t, err)

	input := dataset.NewFrame([]string{"x"})
	require.NoError(t, input.AppendRow([]string{"10"}))
	require.NoError(t, input.AppendRow([]string{"20"}))

	// 模拟进程重启后的预测
	preds, err := NewBaseline().Predict(context.Background(), input, modelDir)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.InDelta(t, 21.0, dataset.ParseFloat(preds[0]), 0.5)
	assert.InDelta(t, 41.0, dataset.ParseFloat(preds[1]), 0.5)
}

// TestBaselineFitClassification 可分数据上朴素贝叶斯应达到满分准确率
func TestBaselineFitClassification(t *testing.T) {
	modelDir := t.TempDir()
	params := &session.TrainingParameters{TargetColumn: "label"}

	result, err := NewBaseline().Fit(context.Background(), classFrame(t, 60), params, modelDir)
	require.NoError(t, err)

	assert.Equal(t, ModelNaiveBayes, result.BestModel)
	assert.InDelta(t, 1.0, result.Leaderboard[0].ScoreVal, 1e-9)
	assert.Equal(t, "accuracy", result.Summary.Metric)
	assert.Contains(t, []string{"binary"}, result.Summary.ProblemType)
}

// TestBaselinePresetExtendsCandidates 高质量预设追加候选模型
func TestBaselinePresetExtendsCandidates(t *testing.T) {
	modelDir := t.TempDir()
	params := &session.TrainingParameters{TargetColumn: "y", Preset: "best_quality"}

	result, err := NewBaseline().Fit(context.Background(), linearFrame(t, 60), params, modelDir)
	require.NoError(t, err)

	names := make([]string, len(result.Leaderboard))
	for i, row := range result.Leaderboard {
		names[i] = row.Model
	}
	assert.Contains(t, names, ModelRidgeRegression)
}

// TestBaselineModelsFilter models_to_train限制候选集合
func TestBaselineModelsFilter(t *testing.T) {
	modelDir := t.TempDir()
	params := &session.TrainingParameters{
		TargetColumn:  "y",
		ModelsToTrain: session.ModelList{ModelMeanPredictor},
	}

	result, err := NewBaseline().Fit(context.Background(), linearFrame(t, 60), params, modelDir)
	require.NoError(t, err)
	require.Len(t, result.Leaderboard, 1)
	assert.Equal(t, ModelMeanPredictor, result.Leaderboard[0].Model)
}

// TestBaselineTimeLimitFirstCandidate 预算已超时也至少训练第一个候选
func TestBaselineTimeLimitFirstCandidate(t *testing.T) {
	modelDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewBaseline().Fit(ctx, linearFrame(t, 60),
		&session.TrainingParameters{TargetColumn: "y"}, modelDir)
	require.NoError(t, err)
	assert.Len(t, result.Leaderboard, 1)
	assert.Equal(t, ModelMeanPredictor, result.Leaderboard[0].Model)
}

// TestBaselineEmptyDataset 无有效行时报错
func TestBaselineEmptyDataset(t *testing.T) {
	f := dataset.NewFrame([]string{"x", "y"})
	_, err := NewBaseline().Fit(context.Background(), f,
		&session.TrainingParameters{TargetColumn: "y"}, t.TempDir())
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

// TestBaselinePredictWithoutModel 模型产物缺失时返回ErrModelNotFound
func TestBaselinePredictWithoutModel(t *testing.T) {
	input := dataset.NewFrame([]string{"x"})
	require.NoError(t, input.AppendRow([]string{"1"}))

	_, err := NewBaseline().Predict(context.Background(), input, t.TempDir())
	assert.ErrorIs(t, err, ErrModelNotFound)
}

// TestScoreRegressionMetrics 回归指标方向统一为越大越好
func TestScoreRegressionMetrics(t *testing.T) {
	yTrue := []float64{1, 2, 3}
	perfect := []float64{1, 2, 3}
	off := []float64{2, 3, 4}

	for _, metric := range []string{"root_mean_squared_error", "mean_absolute_error", "r2"} {
		t.Run(metric, func(t *testing.T) {
			assert.Greater(t,
				scoreRegression(metric, yTrue, perfect),
				scoreRegression(metric, yTrue, off),
				fmt.Sprintf("perfect prediction must score higher for %s", metric))
		})
	}
}
