package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatusTransitions 状态机只允许单调前进，终态不可离开
func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusInitializing.CanTransition(StatusRunning))
	assert.True(t, StatusInitializing.CanTransition(StatusFailed))
	assert.True(t, StatusRunning.CanTransition(StatusPredicting))
	assert.True(t, StatusRunning.CanTransition(StatusCompleted))
	assert.True(t, StatusPredicting.CanTransition(StatusCompleted))
	assert.True(t, StatusPredicting.CanTransition(StatusFailed))

	// 不允许回退
	assert.False(t, StatusRunning.CanTransition(StatusInitializing))
	assert.False(t, StatusPredicting.CanTransition(StatusRunning))

	// 终态不可离开
	assert.False(t, StatusCompleted.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusRunning))
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

// TestModelListUnmarshal 兼容字符串和数组两种JSON写法
func TestModelListUnmarshal(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected ModelList
		trainAll bool
	}{
		{"星号通配", `{"models_to_train": "*"}`, ModelList{"*"}, true},
		{"all关键字", `{"models_to_train": "all"}`, ModelList{"all"}, true},
		{"单个模型字符串", `{"models_to_train": "LinearRegression"}`, ModelList{"LinearRegression"}, false},
		{"模型数组", `{"models_to_train": ["A", "B"]}`, ModelList{"A", "B"}, false},
		{"省略字段", `{}`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var params TrainingParameters
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &params))
			assert.Equal(t, tc.expected, params.ModelsToTrain)
			assert.Equal(t, tc.trainAll, params.ModelsToTrain.TrainAll())
		})
	}

	var params TrainingParameters
	err := json.Unmarshal([]byte(`{"models_to_train": 42}`), &params)
	assert.Error(t, err)
}

// TestTrainingParametersValidate 参数校验
func TestTrainingParametersValidate(t *testing.T) {
	valid := &TrainingParameters{
		TargetColumn:      "price",
		FillMissingMethod: "Mean",
		ProblemType:       "regression",
		TrainingTimeLimit: 60,
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&TrainingParameters{}).Validate())
	assert.Error(t, (&TrainingParameters{TargetColumn: "y", FillMissingMethod: "Drop"}).Validate())
	assert.Error(t, (&TrainingParameters{TargetColumn: "y", ProblemType: "ranking"}).Validate())
	assert.Error(t, (&TrainingParameters{TargetColumn: "y", TrainingTimeLimit: -1}).Validate())
}

// TestMetadataClone 深拷贝互不影响
func TestMetadataClone(t *testing.T) {
	meta := newTestMeta("s1", "/tmp/s1")
	meta.TrainingParameters.ModelsToTrain = ModelList{"A"}

	clone := meta.Clone()
	clone.Status = StatusFailed
	clone.TrainingParameters.TargetColumn = "other"
	clone.TrainingParameters.ModelsToTrain[0] = "B"

	assert.Equal(t, StatusInitializing, meta.Status)
	assert.Equal(t, "price", meta.TrainingParameters.TargetColumn)
	assert.Equal(t, ModelList{"A"}, meta.TrainingParameters.ModelsToTrain)
}
