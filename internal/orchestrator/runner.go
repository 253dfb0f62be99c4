package orchestrator

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/engine"
	"AutoMLTrainPlatform/internal/logger"
	"AutoMLTrainPlatform/internal/session"
)

// 会话目录下的训练产物文件名
const (
	LeaderboardFileName       = "leaderboard.csv"
	FeatureImportanceFileName = "feature_importance.csv"
)

// 流程各阶段对应的进度检查点
const (
	progressPreparation = 10
	progressMissings    = 20
	progressDataFrame   = 30
	progressTrained     = 60
	progressMetadata    = 90
	progressDone        = 100
)

// Uploader 把预测结果写入外部数据库的连接器。上传失败不影响会话的完成状态
type Uploader interface {
	UploadFrame(ctx context.Context, schema, table string, frame *dataset.Frame) error
}

// Runner 执行单个训练会话的完整流水线：数据准备、缺失值填充、
// 受并发许可约束的模型训练、产物落盘、预测、可选的数据库上传。
// 每个阶段结束后持久化一次元数据，磁盘状态始终反映最新进度。
type Runner struct {
	store    *session.Store
	engine   engine.Engine
	limiter  *Limiter
	uploader Uploader
}

// NewRunner 创建流水线执行器。uploader可为nil表示禁用数据库上传
func NewRunner(store *session.Store, eng engine.Engine, limiter *Limiter, uploader Uploader) *Runner {
	return &Runner{store: store, engine: eng, limiter: limiter, uploader: uploader}
}

// Run 执行会话流水线，任何错误都会把会话标记为failed。
// 设计为在独立goroutine中调用，不返回错误。
func (r *Runner) Run(ctx context.Context, sessionID string) {
	if err := r.run(ctx, sessionID); err != nil {
		logger.LogError("训练流水线", fmt.Sprintf("会话执行失败: %v", err), sessionID)
		r.markFailed(sessionID, err)
	}
}

func (r *Runner) run(ctx context.Context, sessionID string) error {
	meta, err := r.store.Load(sessionID)
	if err != nil {
		return fmt.Errorf("加载会话元数据失败: %w", err)
	}
	params := meta.TrainingParameters
	if params == nil {
		return fmt.Errorf("会话缺少训练参数")
	}

	// 阶段1：数据准备
	now := time.Now()
	meta.Status = session.StatusRunning
	meta.StartTime = &now
	meta.Progress = progressPreparation
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化准备阶段状态失败: %w", err)
	}
	logger.LogInfo("训练流水线", "开始数据准备", sessionID)

	trainPath := filepath.Join(meta.SessionPath, meta.TrainFile)
	train, err := dataset.ReadCSVFile(trainPath)
	if err != nil {
		return fmt.Errorf("读取训练数据失败: %w", err)
	}
	if !train.HasColumn(params.TargetColumn) {
		return fmt.Errorf("训练数据中不存在目标列 %q", params.TargetColumn)
	}

	// 阶段2：缺失值填充
	if err := dataset.FillMissing(train, params.FillMissingMethod); err != nil {
		return fmt.Errorf("缺失值填充失败: %w", err)
	}
	meta.Progress = progressMissings
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化缺失值阶段状态失败: %w", err)
	}

	// 阶段3：数据框就绪
	meta.Progress = progressDataFrame
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化数据框阶段状态失败: %w", err)
	}

	// 阶段4：训练。只有重型Fit调用受并发许可约束，
	// 许可在训练返回后立即归还，不覆盖后续的预测和上传。
	modelDir := r.store.ModelPath(sessionID)
	fitResult, err := r.fitWithSlot(ctx, train, params, modelDir, sessionID)
	if err != nil {
		return fmt.Errorf("模型训练失败: %w", err)
	}
	logger.LogSuccess("训练流水线",
		fmt.Sprintf("训练完成，最佳模型: %s", fitResult.BestModel), sessionID)

	// 阶段5：训练产物落盘
	if err := writeLeaderboardCSV(filepath.Join(meta.SessionPath, LeaderboardFileName), fitResult.Leaderboard); err != nil {
		return fmt.Errorf("写入排行榜失败: %w", err)
	}
	if err := writeFeatureImportanceCSV(filepath.Join(modelDir, FeatureImportanceFileName), fitResult.FeatureImportance); err != nil {
		return fmt.Errorf("写入特征重要性失败: %w", err)
	}
	if err := writeFitSummary(filepath.Join(modelDir, engine.FitSummaryFileName), &fitResult.Summary); err != nil {
		return fmt.Errorf("写入训练摘要失败: %w", err)
	}
	meta.Status = session.StatusPredicting
	meta.ModelPath = modelDir
	meta.Progress = progressTrained
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化训练完成状态失败: %w", err)
	}
	meta.Progress = progressMetadata
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化产物元数据失败: %w", err)
	}

	// 阶段6：预测。没有测试集时训练即为终点
	if meta.TestFile != "" {
		predictionFile, err := r.predict(ctx, meta, params, modelDir)
		if err != nil {
			return fmt.Errorf("预测失败: %w", err)
		}
		meta.PredictionFile = predictionFile
	}

	end := time.Now()
	meta.Status = session.StatusCompleted
	meta.Progress = progressDone
	meta.EndTime = &end
	if err := r.store.Save(sessionID, meta); err != nil {
		return fmt.Errorf("持久化完成状态失败: %w", err)
	}
	logger.LogSuccess("训练流水线", "会话完成", sessionID)

	// 阶段7：可选的数据库上传。失败单独记录在upload_error，
	// 不改变会话的completed状态
	if params.UploadTableName != "" && meta.PredictionFile != "" {
		r.uploadPrediction(ctx, meta, params)
	}
	return nil
}

// fitWithSlot 在并发许可内执行训练，时间预算转换为ctx截止时间
func (r *Runner) fitWithSlot(ctx context.Context, train *dataset.Frame, params *session.TrainingParameters, modelDir, sessionID string) (*engine.FitResult, error) {
	logger.LogInfo("训练流水线",
		fmt.Sprintf("等待训练许可 (%d/%d 占用中)", r.limiter.InUse(), r.limiter.Capacity()), sessionID)
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("获取训练许可失败: %w", err)
	}
	defer r.limiter.Release()

	fitCtx := ctx
	if params.TrainingTimeLimit > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, time.Duration(params.TrainingTimeLimit)*time.Second)
		defer cancel()
	}
	logger.LogInfo("训练流水线", "开始模型训练", sessionID)
	return r.engine.Fit(fitCtx, train, params, modelDir)
}

// predict 对测试集做预测并写出prediction_<id>.csv，返回生成的文件名。
// 输入中若含目标列则先剔除，预测结果以目标列名拼接回输入列之后，行序不变。
func (r *Runner) predict(ctx context.Context, meta *session.Metadata, params *session.TrainingParameters, modelDir string) (string, error) {
	testPath := filepath.Join(meta.SessionPath, meta.TestFile)
	input, err := dataset.ReadCSVFile(testPath)
	if err != nil {
		return "", fmt.Errorf("读取测试数据失败: %w", err)
	}
	if err := dataset.FillMissing(input, params.FillMissingMethod); err != nil {
		return "", fmt.Errorf("测试数据缺失值填充失败: %w", err)
	}
	features := input.DropColumn(params.TargetColumn)

	predictions, err := r.engine.Predict(ctx, features, modelDir)
	if err != nil {
		return "", err
	}
	combined, err := features.WithColumn(params.TargetColumn, predictions)
	if err != nil {
		return "", fmt.Errorf("拼接预测列失败: %w", err)
	}

	predictionFile := fmt.Sprintf("prediction_%s.csv", meta.SessionID)
	if err := combined.WriteCSVFile(filepath.Join(meta.SessionPath, predictionFile)); err != nil {
		return "", fmt.Errorf("写入预测结果失败: %w", err)
	}
	logger.LogSuccess("训练流水线",
		fmt.Sprintf("预测完成，共 %d 行", combined.NumRows()), meta.SessionID)
	return predictionFile, nil
}

// uploadPrediction 把预测结果上传到外部数据库，失败只记录不传播
func (r *Runner) uploadPrediction(ctx context.Context, meta *session.Metadata, params *session.TrainingParameters) {
	record := func(uploadErr string) {
		meta.UploadError = uploadErr
		if err := r.store.Save(meta.SessionID, meta); err != nil {
			logger.LogError("数据库上传", fmt.Sprintf("记录上传结果失败: %v", err), meta.SessionID)
		}
	}
	if r.uploader == nil {
		record("database upload requested but no database is configured")
		logger.LogWarning("数据库上传", "请求了上传但未配置数据库连接", meta.SessionID)
		return
	}
	frame, err := dataset.ReadCSVFile(filepath.Join(meta.SessionPath, meta.PredictionFile))
	if err != nil {
		record(fmt.Sprintf("read prediction file: %v", err))
		return
	}
	if err := r.uploader.UploadFrame(ctx, params.UploadTableSchema, params.UploadTableName, frame); err != nil {
		record(err.Error())
		logger.LogError("数据库上传", fmt.Sprintf("上传到表 %s 失败: %v", params.UploadTableName, err), meta.SessionID)
		return
	}
	record("")
	logger.LogSuccess("数据库上传",
		fmt.Sprintf("预测结果已上传到表 %s", params.UploadTableName), meta.SessionID)
}

// markFailed 尽力把会话标记为failed，终态会话不再改写
func (r *Runner) markFailed(sessionID string, cause error) {
	meta, err := r.store.Load(sessionID)
	if err != nil {
		logger.LogError("训练流水线", fmt.Sprintf("标记失败状态时无法加载元数据: %v", err), sessionID)
		return
	}
	if !meta.Status.CanTransition(session.StatusFailed) {
		return
	}
	now := time.Now()
	meta.Status = session.StatusFailed
	meta.Error = cause.Error()
	meta.EndTime = &now
	if err := r.store.Save(sessionID, meta); err != nil {
		logger.LogError("训练流水线", fmt.Sprintf("持久化失败状态时出错: %v", err), sessionID)
	}
}

// writeLeaderboardCSV 写出排行榜，验证分数为NaN的行不进入文件
func writeLeaderboardCSV(path string, rows []engine.LeaderboardRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"model", "score_val", "fit_time"}); err != nil {
		return err
	}
	for _, row := range rows {
		if math.IsNaN(row.ScoreVal) {
			continue
		}
		rec := []string{row.Model, dataset.FormatFloat(row.ScoreVal), dataset.FormatFloat(row.FitTime)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeFitSummary(path string, summary *engine.FitSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeFeatureImportanceCSV(path string, rows []engine.FeatureImportanceRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"feature", "importance"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Feature, dataset.FormatFloat(row.Importance)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// sanitizeFileName 只保留安全字符，防止上传文件名穿越会话目录
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "" || name == string(filepath.Separator) {
		return ""
	}
	return name
}
