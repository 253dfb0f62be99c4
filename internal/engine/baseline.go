package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/session"
)

// splitSeed 训练/验证划分与置换重要性使用固定种子，保证结果可复现
const splitSeed = 42

// Baseline 内置表格AutoML引擎。在80/20划分上训练一组简单候选模型，
// 按验证得分排序生成排行榜，并将最优模型参数落盘供重启后预测。
type Baseline struct{}

// NewBaseline 创建内置引擎
func NewBaseline() *Baseline {
	return &Baseline{}
}

// savedModel model.json的落盘结构
type savedModel struct {
	Target      string       `json:"target"`
	ProblemType string       `json:"problem_type"`
	Metric      string       `json:"metric"`
	Best        *fittedModel `json:"best"`
}

// candidateSpec 一个可训练的候选模型
type candidateSpec struct {
	name string
	fit  func(td *trainingData, rows []int, problemType string) (*fittedModel, error)
}

// Fit 训练候选模型集合并写出模型产物
func (b *Baseline) Fit(ctx context.Context, train *dataset.Frame, params *session.TrainingParameters, modelDir string) (*FitResult, error) {
	started := time.Now()

	td, err := buildTrainingData(train, params.TargetColumn)
	if err != nil {
		return nil, err
	}
	problemType := inferProblemType(train, params.TargetColumn, params.ProblemType)
	metric := resolveMetric(params.EvaluationMetric, problemType)

	trainRows, valRows := splitRows(td.rows)

	candidates := selectCandidates(problemType, params)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate models match models_to_train for problem type %q", problemType)
	}

	var (
		leaderboard []LeaderboardRow
		fitted      []*fittedModel
	)
	for i, spec := range candidates {
		// 首个候选总是训练；之后每个候选前检查时间预算
		if i > 0 && ctx.Err() != nil {
			break
		}
		fitStart := time.Now()
		model, err := spec.fit(td, trainRows, problemType)
		if err != nil {
			// 跳过不适用的候选（例如缺少数值特征）
			continue
		}
		score := b.evaluate(model, td, valRows, metric)
		leaderboard = append(leaderboard, LeaderboardRow{
			Model:    spec.name,
			ScoreVal: score,
			FitTime:  time.Since(fitStart).Seconds(),
		})
		fitted = append(fitted, model)
	}
	if len(fitted) == 0 {
		if ctx.Err() != nil {
			return nil, ErrTimeLimitExceeded
		}
		return nil, fmt.Errorf("all candidate models failed to fit")
	}

	bestIdx := 0
	for i, row := range leaderboard {
		if row.ScoreVal > leaderboard[bestIdx].ScoreVal {
			bestIdx = i
		}
	}
	best := fitted[bestIdx]
	sortLeaderboard(leaderboard)

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := writeModel(modelDir, &savedModel{
		Target:      params.TargetColumn,
		ProblemType: problemType,
		Metric:      metric,
		Best:        best,
	}); err != nil {
		return nil, err
	}

	importance := b.permutationImportance(best, td, valRows, metric)

	modelNames := make([]string, len(leaderboard))
	for i, row := range leaderboard {
		modelNames[i] = row.Model
	}
	return &FitResult{
		BestModel:         best.Name,
		Leaderboard:       leaderboard,
		FeatureImportance: importance,
		Summary: FitSummary{
			ProblemType:     problemType,
			TargetColumn:    params.TargetColumn,
			Metric:          metric,
			BestModel:       best.Name,
			TrainRows:       len(trainRows),
			ValidationRows:  len(valRows),
			FeatureColumns:  td.featureColumns(),
			ModelsTrained:   modelNames,
			TotalFitSeconds: time.Since(started).Seconds(),
		},
	}, nil
}

// Predict 加载已保存的最优模型并逐行预测
func (b *Baseline) Predict(ctx context.Context, input *dataset.Frame, modelDir string) ([]string, error) {
	saved, err := loadModel(modelDir)
	if err != nil {
		return nil, err
	}
	predictions := make([]string, input.NumRows())
	for row := 0; row < input.NumRows(); row++ {
		if row%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		predictions[row] = saved.Best.predictRow(input, row)
	}
	return predictions, nil
}

// selectCandidates 按任务类型和预设挑选候选模型，再按models_to_train过滤
func selectCandidates(problemType string, params *session.TrainingParameters) []candidateSpec {
	extended := params.Preset == "high_quality" || params.Preset == "best_quality"

	var specs []candidateSpec
	if isRegression(problemType) {
		specs = append(specs,
			candidateSpec{ModelMeanPredictor, func(td *trainingData, rows []int, pt string) (*fittedModel, error) {
				return fitMeanPredictor(td, rows, pt), nil
			}},
			candidateSpec{ModelLinearRegression, func(td *trainingData, rows []int, pt string) (*fittedModel, error) {
				return fitLinear(td, rows, pt, ModelLinearRegression, 0)
			}},
		)
		if extended {
			specs = append(specs, candidateSpec{ModelRidgeRegression, func(td *trainingData, rows []int, pt string) (*fittedModel, error) {
				return fitLinear(td, rows, pt, ModelRidgeRegression, 1.0)
			}})
		}
	} else {
		specs = append(specs,
			candidateSpec{ModelMajorityClass, func(td *trainingData, rows []int, pt string) (*fittedModel, error) {
				return fitMajorityClass(td, rows, pt), nil
			}},
			candidateSpec{ModelNaiveBayes, fitNaiveBayes},
		)
		if extended {
			specs = append(specs, candidateSpec{ModelNearestCentroid, fitNearestCentroid})
		}
	}

	if params.ModelsToTrain.TrainAll() {
		return specs
	}
	wanted := make(map[string]bool, len(params.ModelsToTrain))
	for _, name := range params.ModelsToTrain {
		wanted[name] = true
	}
	filtered := specs[:0]
	for _, spec := range specs {
		if wanted[spec.name] {
			filtered = append(filtered, spec)
		}
	}
	return filtered
}

// resolveMetric 解析评估指标，"auto"或未知指标回落到默认值
func resolveMetric(metric, problemType string) string {
	if isRegression(problemType) {
		switch metric {
		case "mean_absolute_error", "mae", "r2", "root_mean_squared_error":
			return metric
		}
		return "root_mean_squared_error"
	}
	switch metric {
	case "f1", "accuracy":
		return metric
	}
	return "accuracy"
}

// splitRows 80/20划分。样本过少时验证集退化为训练集本身。
func splitRows(rows []int) (trainRows, valRows []int) {
	if len(rows) < 5 {
		return rows, rows
	}
	shuffled := append([]int(nil), rows...)
	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	cut := len(shuffled) / 5
	if cut == 0 {
		cut = 1
	}
	return shuffled[cut:], shuffled[:cut]
}

// evaluate 在给定行集合上评估模型
func (b *Baseline) evaluate(model *fittedModel, td *trainingData, rows []int, metric string) float64 {
	return evaluateOn(model, td, td.frame, rows, metric)
}

// evaluateOn 允许传入替换后的frame（用于置换重要性）
func evaluateOn(model *fittedModel, td *trainingData, frame *dataset.Frame, rows []int, metric string) float64 {
	targetIdx := frame.ColumnIndex(td.target)
	if isRegression(model.ProblemType) {
		yTrue := make([]float64, 0, len(rows))
		yPred := make([]float64, 0, len(rows))
		for _, row := range rows {
			y := dataset.ParseFloat(frame.Cell(row, targetIdx))
			if math.IsNaN(y) {
				continue
			}
			yTrue = append(yTrue, y)
			yPred = append(yPred, dataset.ParseFloat(model.predictRow(frame, row)))
		}
		if len(yTrue) == 0 {
			return math.NaN()
		}
		return scoreRegression(metric, yTrue, yPred)
	}

	yTrue := make([]string, 0, len(rows))
	yPred := make([]string, 0, len(rows))
	for _, row := range rows {
		yTrue = append(yTrue, frame.Cell(row, targetIdx))
		yPred = append(yPred, model.predictRow(frame, row))
	}
	if len(yTrue) == 0 {
		return math.NaN()
	}
	return scoreClassification(metric, yTrue, yPred)
}

// permutationImportance 置换重要性：打乱某一特征列后验证得分的下降量
func (b *Baseline) permutationImportance(model *fittedModel, td *trainingData, valRows []int, metric string) []FeatureImportanceRow {
	base := evaluateOn(model, td, td.frame, valRows, metric)
	rng := rand.New(rand.NewSource(splitSeed))

	features := td.featureColumns()
	out := make([]FeatureImportanceRow, 0, len(features))
	for _, col := range features {
		idx := td.frame.ColumnIndex(col)
		shuffled := td.frame.Clone()
		perm := rng.Perm(len(valRows))
		for i, row := range valRows {
			shuffled.SetCell(row, idx, td.frame.Cell(valRows[perm[i]], idx))
		}
		score := evaluateOn(model, td, shuffled, valRows, metric)
		importance := base - score
		if math.IsNaN(importance) {
			importance = 0
		}
		out = append(out, FeatureImportanceRow{Feature: col, Importance: importance})
	}
	return out
}

// sortLeaderboard 按验证得分从高到低排序，NaN沉底
func sortLeaderboard(rows []LeaderboardRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && leaderboardLess(rows[j], rows[j-1]); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func leaderboardLess(a, b LeaderboardRow) bool {
	if math.IsNaN(b.ScoreVal) {
		return !math.IsNaN(a.ScoreVal)
	}
	if math.IsNaN(a.ScoreVal) {
		return false
	}
	return a.ScoreVal > b.ScoreVal
}

// writeModel 落盘模型参数
func writeModel(modelDir string, saved *savedModel) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, ModelFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return nil
}

// loadModel 读取模型参数
func loadModel(modelDir string) (*savedModel, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, ModelFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var saved savedModel
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if saved.Best == nil {
		return nil, fmt.Errorf("model artifact has no fitted model")
	}
	return &saved, nil
}
