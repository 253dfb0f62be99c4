package engine

import (
	"context"
	"errors"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/session"
)

// 训练产物在模型目录下的固定文件名
const (
	ModelFileName      = "model.json"
	FitSummaryFileName = "fit_summary.json"
)

var (
	// ErrModelNotFound 模型产物缺失
	ErrModelNotFound = errors.New("model artifact not found")
	// ErrEmptyDataset 训练集为空
	ErrEmptyDataset = errors.New("dataset has no rows")
	// ErrTimeLimitExceeded 在任何模型完成前就超出了时间预算
	ErrTimeLimitExceeded = errors.New("training time limit exceeded before any model finished")
)

// LeaderboardRow 排行榜的一行
type LeaderboardRow struct {
	Model    string  `json:"model"`
	ScoreVal float64 `json:"score_val"`
	FitTime  float64 `json:"fit_time"`
}

// FeatureImportanceRow 特征重要性的一行
type FeatureImportanceRow struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// FitSummary 训练摘要，序列化为fit_summary.json
type FitSummary struct {
	ProblemType     string   `json:"problem_type"`
	TargetColumn    string   `json:"target_column"`
	Metric          string   `json:"metric"`
	BestModel       string   `json:"best_model"`
	TrainRows       int      `json:"train_rows"`
	ValidationRows  int      `json:"validation_rows"`
	FeatureColumns  []string `json:"feature_columns"`
	ModelsTrained   []string `json:"models_trained"`
	TotalFitSeconds float64  `json:"total_fit_seconds"`
}

// FitResult 一次训练的完整输出
type FitResult struct {
	BestModel         string
	Leaderboard       []LeaderboardRow
	FeatureImportance []FeatureImportanceRow
	Summary           FitSummary
}

// Engine 外部AutoML引擎契约：给定表格数据和训练参数，产出拟合模型、
// 排行榜和特征重要性；随后可对新数据做预测。时间预算通过ctx截止时间传入，
// 由引擎自行遵守。
type Engine interface {
	// Fit 训练并把模型产物写入modelDir
	Fit(ctx context.Context, train *dataset.Frame, params *session.TrainingParameters, modelDir string) (*FitResult, error)
	// Predict 加载modelDir中的模型，对输入逐行预测，返回与行序对应的预测值
	Predict(ctx context.Context, input *dataset.Frame, modelDir string) ([]string, error)
}
