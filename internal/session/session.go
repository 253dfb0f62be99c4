package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status 会话状态
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPredicting   Status = "predicting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsTerminal 判断状态是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank 状态在状态机中的顺序
func (s Status) rank() int {
	switch s {
	case StatusInitializing:
		return 0
	case StatusRunning:
		return 1
	case StatusPredicting:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition 判断是否允许从当前状态迁移到目标状态
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ModelList 待训练模型列表，JSON中兼容字符串("*"/"all")和数组两种写法
type ModelList []string

// UnmarshalJSON 兼容 "models_to_train": "*" 和 ["A","B"] 两种形式
func (m *ModelList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*m = nil
		} else {
			*m = ModelList{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("models_to_train must be a string or a list of strings")
	}
	*m = ModelList(list)
	return nil
}

// TrainAll 是否训练全部可用模型
func (m ModelList) TrainAll() bool {
	if len(m) == 0 {
		return true
	}
	for _, name := range m {
		if name == "*" || name == "all" {
			return true
		}
	}
	return false
}

// TrainingParameters 训练参数记录，提交后不可变
type TrainingParameters struct {
	TargetColumn      string    `json:"target_column"`
	FillMissingMethod string    `json:"fill_missing_method,omitempty"`
	EvaluationMetric  string    `json:"evaluation_metric,omitempty"`
	ModelsToTrain     ModelList `json:"models_to_train,omitempty"`
	Preset            string    `json:"preset,omitempty"`
	ProblemType       string    `json:"problem_type,omitempty"`
	TrainingTimeLimit int       `json:"training_time_limit,omitempty"`
	UploadTableName   string    `json:"upload_table_name,omitempty"`
	UploadTableSchema string    `json:"upload_table_schema,omitempty"`
}

// Validate 校验参数是否完整
func (p *TrainingParameters) Validate() error {
	if p.TargetColumn == "" {
		return fmt.Errorf("target_column must be specified in params")
	}
	switch p.FillMissingMethod {
	case "", "None", "Constant=0", "Mean", "Median", "Mode":
	default:
		return fmt.Errorf("unsupported fill_missing_method: %q", p.FillMissingMethod)
	}
	switch p.ProblemType {
	case "", "auto", "binary", "multiclass", "regression":
	default:
		return fmt.Errorf("unsupported problem_type: %q", p.ProblemType)
	}
	if p.TrainingTimeLimit < 0 {
		return fmt.Errorf("training_time_limit must be non-negative")
	}
	return nil
}

// Metadata 会话元数据，持久化到会话目录下的metadata.json
type Metadata struct {
	SessionID          string              `json:"session_id"`
	Status             Status              `json:"status"`
	Progress           int                 `json:"progress"`
	Error              string              `json:"error,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	StartTime          *time.Time          `json:"start_time,omitempty"`
	EndTime            *time.Time          `json:"end_time,omitempty"`
	TrainFile          string              `json:"train_file,omitempty"`
	TestFile           string              `json:"test_file,omitempty"`
	SessionPath        string              `json:"session_path"`
	ModelPath          string              `json:"model_path,omitempty"`
	PredictionFile     string              `json:"prediction_file,omitempty"`
	UploadError        string              `json:"upload_error,omitempty"`
	TrainingParameters *TrainingParameters `json:"training_parameters,omitempty"`
}

// Clone 深拷贝元数据，避免调用方共享内部状态
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.StartTime != nil {
		t := *m.StartTime
		out.StartTime = &t
	}
	if m.EndTime != nil {
		t := *m.EndTime
		out.EndTime = &t
	}
	if m.TrainingParameters != nil {
		p := *m.TrainingParameters
		p.ModelsToTrain = append(ModelList(nil), m.TrainingParameters.ModelsToTrain...)
		out.TrainingParameters = &p
	}
	return &out
}
