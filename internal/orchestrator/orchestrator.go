package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/engine"
	"AutoMLTrainPlatform/internal/logger"
	"AutoMLTrainPlatform/internal/session"
)

// ValidationError 提交请求未通过校验。校验失败发生在会话创建之前，
// 不会留下任何会话目录
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError 判断错误是否为提交校验失败
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SubmitRequest 一次训练提交的全部输入
type SubmitRequest struct {
	Params        *session.TrainingParameters
	TrainFileName string
	TrainData     []byte
	TestFileName  string
	TestData      []byte
}

// SubmitResult 提交被接受后的回执
type SubmitResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// SessionStatus 状态查询的完整视图。训练产物只在completed会话上附带，
// 产物文件缺失时对应字段为空而不是报错
type SessionStatus struct {
	*session.Metadata
	Leaderboard       []engine.LeaderboardRow       `json:"leaderboard,omitempty"`
	FeatureImportance []engine.FeatureImportanceRow `json:"feature_importance,omitempty"`
	PredictionHead    []map[string]interface{}      `json:"prediction_head,omitempty"`
}

// Orchestrator 训练会话编排器：同步校验提交、创建会话目录、
// 异步调度流水线执行。磁盘上的会话状态是唯一事实来源
type Orchestrator struct {
	store   *session.Store
	runner  *Runner
	limiter *Limiter

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New 创建编排器。maxConcurrent限制同时进行的重型训练调用数
func New(ctx context.Context, store *session.Store, eng engine.Engine, maxConcurrent int, uploader Uploader) *Orchestrator {
	limiter := NewLimiter(maxConcurrent)
	return &Orchestrator{
		store:   store,
		runner:  NewRunner(store, eng, limiter, uploader),
		limiter: limiter,
		baseCtx: ctx,
	}
}

// Limiter 暴露并发许可器，用于系统状态查询
func (o *Orchestrator) Limiter() *Limiter {
	return o.limiter
}

// Submit 校验并接受一次训练提交。校验、目录创建和initializing状态的
// 持久化全部同步完成，返回时会话已可被状态查询发现；训练本身在
// 后台goroutine中进行，提交调用不等待任何训练资源。
func (o *Orchestrator) Submit(req *SubmitRequest) (*SubmitResult, error) {
	if req.Params == nil {
		return nil, validationErrorf("training parameters are required")
	}
	if err := req.Params.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	trainName := sanitizeFileName(req.TrainFileName)
	if trainName == "" || len(req.TrainData) == 0 {
		return nil, validationErrorf("training file is required")
	}
	testName := sanitizeFileName(req.TestFileName)

	// 在落盘之前校验训练数据可解析、目标列存在
	train, err := dataset.ReadCSV(bytes.NewReader(req.TrainData))
	if err != nil {
		return nil, validationErrorf("training file is not valid CSV: %v", err)
	}
	if train.NumRows() == 0 {
		return nil, validationErrorf("training file has no data rows")
	}
	if !train.HasColumn(req.Params.TargetColumn) {
		return nil, validationErrorf("target column %q not found in training file", req.Params.TargetColumn)
	}
	if len(req.TestData) > 0 && testName == "" {
		return nil, validationErrorf("test file name is invalid")
	}

	sessionID := uuid.New().String()
	sessionPath, err := o.store.Create(sessionID)
	if err != nil {
		return nil, fmt.Errorf("创建会话目录失败: %w", err)
	}

	meta := &session.Metadata{
		SessionID:          sessionID,
		Status:             session.StatusInitializing,
		Progress:           0,
		CreatedAt:          time.Now(),
		SessionPath:        sessionPath,
		TrainingParameters: req.Params,
	}
	meta.TrainFile = "train_" + trainName
	if err := os.WriteFile(filepath.Join(sessionPath, meta.TrainFile), req.TrainData, 0644); err != nil {
		o.abortSession(sessionID)
		return nil, fmt.Errorf("保存训练文件失败: %w", err)
	}
	if len(req.TestData) > 0 {
		meta.TestFile = "test_" + testName
		if err := os.WriteFile(filepath.Join(sessionPath, meta.TestFile), req.TestData, 0644); err != nil {
			o.abortSession(sessionID)
			return nil, fmt.Errorf("保存测试文件失败: %w", err)
		}
	}
	if err := o.store.Save(sessionID, meta); err != nil {
		o.abortSession(sessionID)
		return nil, fmt.Errorf("持久化会话元数据失败: %w", err)
	}

	logger.LogInfo("编排器",
		fmt.Sprintf("接受训练提交，目标列: %s", req.Params.TargetColumn), sessionID)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runner.Run(o.baseCtx, sessionID)
	}()

	return &SubmitResult{SessionID: sessionID, Status: "accepted"}, nil
}

// Status 查询单个会话的状态。completed会话附带排行榜、特征重要性
// 和预测结果前几行；产物读取失败时静默跳过对应部分
func (o *Orchestrator) Status(sessionID string) (*SessionStatus, error) {
	meta, err := o.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	status := &SessionStatus{Metadata: meta}
	if meta.Status != session.StatusCompleted {
		return status, nil
	}

	if rows, err := readLeaderboardCSV(filepath.Join(meta.SessionPath, LeaderboardFileName)); err == nil {
		status.Leaderboard = rows
	}
	if meta.ModelPath != "" {
		if rows, err := readFeatureImportanceCSV(filepath.Join(meta.ModelPath, FeatureImportanceFileName)); err == nil {
			status.FeatureImportance = rows
		}
	}
	if meta.PredictionFile != "" {
		if frame, err := dataset.ReadCSVFile(filepath.Join(meta.SessionPath, meta.PredictionFile)); err == nil {
			status.PredictionHead = frame.Head(10).Records()
		}
	}
	return status, nil
}

// PredictionFrame 加载completed会话的完整预测结果
func (o *Orchestrator) PredictionFrame(sessionID string) (*dataset.Frame, *session.Metadata, error) {
	meta, err := o.store.Load(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if meta.Status != session.StatusCompleted {
		return nil, meta, fmt.Errorf("session %s is not completed (status: %s)", sessionID, meta.Status)
	}
	if meta.PredictionFile == "" {
		return nil, meta, fmt.Errorf("session %s has no prediction output", sessionID)
	}
	frame, err := dataset.ReadCSVFile(filepath.Join(meta.SessionPath, meta.PredictionFile))
	if err != nil {
		return nil, meta, fmt.Errorf("读取预测结果失败: %w", err)
	}
	return frame, meta, nil
}

// Leaderboard 读取会话的排行榜产物
func (o *Orchestrator) Leaderboard(sessionID string) ([]engine.LeaderboardRow, error) {
	meta, err := o.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	return readLeaderboardCSV(filepath.Join(meta.SessionPath, LeaderboardFileName))
}

// FeatureImportance 读取会话的特征重要性产物
func (o *Orchestrator) FeatureImportance(sessionID string) ([]engine.FeatureImportanceRow, error) {
	meta, err := o.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if meta.ModelPath == "" {
		return nil, engine.ErrModelNotFound
	}
	return readFeatureImportanceCSV(filepath.Join(meta.ModelPath, FeatureImportanceFileName))
}

// ListSessions 列出所有会话的元数据，按创建时间倒序。
// statusFilter非空时只保留对应状态的会话
func (o *Orchestrator) ListSessions(statusFilter string) ([]*session.Metadata, error) {
	ids, err := o.store.List()
	if err != nil {
		return nil, err
	}
	metas := make([]*session.Metadata, 0, len(ids))
	for _, id := range ids {
		meta, err := o.store.Load(id)
		if err != nil {
			// 残缺目录不阻断列表
			continue
		}
		if statusFilter != "" && !strings.EqualFold(string(meta.Status), statusFilter) {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Wait 等待所有在途流水线退出，用于优雅停机和测试
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// abortSession 提交中途失败时清理半成品目录
func (o *Orchestrator) abortSession(sessionID string) {
	if err := o.store.Delete(sessionID); err != nil {
		logger.LogWarning("编排器", fmt.Sprintf("清理失败会话目录出错: %v", err), sessionID)
	}
}

func readLeaderboardCSV(path string) ([]engine.LeaderboardRow, error) {
	frame, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	modelIdx := frame.ColumnIndex("model")
	scoreIdx := frame.ColumnIndex("score_val")
	timeIdx := frame.ColumnIndex("fit_time")
	if modelIdx < 0 || scoreIdx < 0 {
		return nil, fmt.Errorf("leaderboard file %s has unexpected columns", path)
	}
	rows := make([]engine.LeaderboardRow, 0, frame.NumRows())
	for i := 0; i < frame.NumRows(); i++ {
		row := engine.LeaderboardRow{
			Model:    frame.Cell(i, modelIdx),
			ScoreVal: dataset.ParseFloat(frame.Cell(i, scoreIdx)),
		}
		if timeIdx >= 0 {
			row.FitTime = dataset.ParseFloat(frame.Cell(i, timeIdx))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readFeatureImportanceCSV(path string) ([]engine.FeatureImportanceRow, error) {
	frame, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	featIdx := frame.ColumnIndex("feature")
	impIdx := frame.ColumnIndex("importance")
	if featIdx < 0 || impIdx < 0 {
		return nil, fmt.Errorf("feature importance file %s has unexpected columns", path)
	}
	rows := make([]engine.FeatureImportanceRow, 0, frame.NumRows())
	for i := 0; i < frame.NumRows(); i++ {
		rows = append(rows, engine.FeatureImportanceRow{
			Feature:    frame.Cell(i, featIdx),
			Importance: dataset.ParseFloat(frame.Cell(i, impIdx)),
		})
	}
	return rows, nil
}
