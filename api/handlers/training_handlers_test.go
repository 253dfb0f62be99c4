package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoMLTrainPlatform/internal/engine"
	"AutoMLTrainPlatform/internal/orchestrator"
	"AutoMLTrainPlatform/internal/session"
)

func buildTrainCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("x,y\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%d,%d\n", i, 2*i+1)
	}
	return sb.String()
}

func newTestRouter(t *testing.T) (*mux.Router, *orchestrator.Orchestrator) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	orch := orchestrator.New(context.Background(), store, engine.NewBaseline(), 2, nil)

	trainingHandler := NewTrainingHandler(orch, 32<<20)
	systemHandler := NewSystemHandler(orch, false)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", systemHandler.GetSystemStatus).Methods("GET")
	api.HandleFunc("/train", trainingHandler.SubmitTraining).Methods("POST")
	api.HandleFunc("/sessions", trainingHandler.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/status", trainingHandler.GetSessionStatus).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction", trainingHandler.DownloadPredictionXLSX).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction.csv", trainingHandler.DownloadPredictionCSV).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction/head", trainingHandler.GetPredictionHead).Methods("GET")
	router.HandleFunc("/health", systemHandler.HealthCheck).Methods("GET")
	return router, orch
}

func multipartSubmit(t *testing.T, params string, trainCSV, testCSV string) (*http.Request, error) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if params != "" {
		require.NoError(t, writer.WriteField("params", params))
	}
	if trainCSV != "" {
		part, err := writer.CreateFormFile("train_file", "train.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(trainCSV))
		require.NoError(t, err)
	}
	if testCSV != "" {
		part, err := writer.CreateFormFile("test_file", "test.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(testCSV))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/v1/train", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

// TestSubmitTrainingLifecycle 完整HTTP生命周期：提交、状态查询、结果下载
func TestSubmitTrainingLifecycle(t *testing.T) {
	router, orch := newTestRouter(t)

	req, _ := multipartSubmit(t, `{"target_column": "y"}`,
		buildTrainCSV(40), "x,y\n100,\n200,\n")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted orchestrator.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "accepted", accepted.Status)
	require.NotEmpty(t, accepted.SessionID)

	// 等待后台流水线
	orch.Wait()

	// 状态查询
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/sessions/"+accepted.SessionID+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, float64(100), status["progress"])
	assert.NotEmpty(t, status["leaderboard"])
	assert.NotEmpty(t, status["prediction_head"])

	// CSV下载
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/sessions/"+accepted.SessionID+"/prediction.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "x,y\n"))

	// Excel下载
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/sessions/"+accepted.SessionID+"/prediction", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())

	// 预测预览
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/sessions/"+accepted.SessionID+"/prediction/head", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var head map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &head))
	assert.Equal(t, float64(2), head["total_rows"])

	// 会话列表
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sessions?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, float64(1), list["total"])
}

// TestSubmitTrainingValidation 各种非法提交返回400
func TestSubmitTrainingValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name   string
		params string
		train  string
	}{
		{"缺少params字段", "", buildTrainCSV(10)},
		{"params非法JSON", "{not json", buildTrainCSV(10)},
		{"缺少目标列", `{"target_column": ""}`, buildTrainCSV(10)},
		{"目标列不存在", `{"target_column": "price"}`, buildTrainCSV(10)},
		{"缺少训练文件", `{"target_column": "y"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := multipartSubmit(t, tc.params, tc.train, "")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// TestSessionEndpointsNotFound 未知会话统一404
func TestSessionEndpointsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{
		"/api/v1/sessions/ghost/status",
		"/api/v1/sessions/ghost/prediction",
		"/api/v1/sessions/ghost/prediction.csv",
		"/api/v1/sessions/ghost/prediction/head",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

// TestSystemEndpoints 系统状态与健康检查
func TestSystemEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.Training.SlotsCapacity)
	assert.False(t, status.Database.Enabled)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
