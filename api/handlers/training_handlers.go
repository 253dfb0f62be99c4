package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"AutoMLTrainPlatform/internal/dataset"
	"AutoMLTrainPlatform/internal/export"
	"AutoMLTrainPlatform/internal/logger"
	"AutoMLTrainPlatform/internal/orchestrator"
	"AutoMLTrainPlatform/internal/session"
)

// TrainingHandler 训练会话API处理器
type TrainingHandler struct {
	orch           *orchestrator.Orchestrator
	maxUploadBytes int64
}

// NewTrainingHandler 创建训练处理器
func NewTrainingHandler(orch *orchestrator.Orchestrator, maxUploadBytes int64) *TrainingHandler {
	return &TrainingHandler{orch: orch, maxUploadBytes: maxUploadBytes}
}

// SubmitTraining 接受训练提交
// POST /api/v1/train
// multipart字段：params（JSON训练参数）、train_file（必须）、test_file（可选）
func (h *TrainingHandler) SubmitTraining(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	paramsJSON := r.FormValue("params")
	if paramsJSON == "" {
		http.Error(w, "Missing params field", http.StatusBadRequest)
		return
	}
	var params session.TrainingParameters
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		http.Error(w, "Invalid params JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	trainName, trainData, err := readUpload(r, "train_file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	testName, testData, err := readUpload(r, "test_file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.orch.Submit(&orchestrator.SubmitRequest{
		Params:        &params,
		TrainFileName: trainName,
		TrainData:     trainData,
		TestFileName:  testName,
		TestData:      testData,
	})
	if err != nil {
		if orchestrator.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.LogError("训练API", fmt.Sprintf("提交处理失败: %v", err), "")
		http.Error(w, "Failed to accept training submission", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// GetSessionStatus 查询会话状态
// GET /api/v1/sessions/{sessionId}/status
func (h *TrainingHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	status, err := h.orch.Status(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// ListSessions 列出会话
// GET /api/v1/sessions?status=&limit=&offset=
func (h *TrainingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := h.orch.ListSessions(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	total := len(metas)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"sessions": metas[offset:end],
	})
}

// DownloadPredictionXLSX 下载完整预测工作簿
// GET /api/v1/sessions/{sessionId}/prediction
func (h *TrainingHandler) DownloadPredictionXLSX(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	frame, meta := h.loadPrediction(w, sessionID)
	if frame == nil {
		return
	}

	wb := &export.Workbook{
		Prediction: frame,
		Params:     meta.TrainingParameters,
	}
	if rows, err := h.orch.Leaderboard(sessionID); err == nil {
		wb.Leaderboard = rows
	}
	if rows, err := h.orch.FeatureImportance(sessionID); err == nil {
		wb.FeatureImportance = rows
	}

	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="prediction_%s.xlsx"`, sessionID))
	if err := export.WriteXLSX(w, wb); err != nil {
		logger.LogError("训练API", fmt.Sprintf("生成Excel工作簿失败: %v", err), sessionID)
	}
}

// DownloadPredictionCSV 下载CSV格式的预测结果
// GET /api/v1/sessions/{sessionId}/prediction.csv
func (h *TrainingHandler) DownloadPredictionCSV(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	frame, _ := h.loadPrediction(w, sessionID)
	if frame == nil {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="prediction_%s.csv"`, sessionID))
	if err := frame.WriteCSV(w); err != nil {
		logger.LogError("训练API", fmt.Sprintf("写出CSV失败: %v", err), sessionID)
	}
}

// GetPredictionHead 预览预测结果前10行
// GET /api/v1/sessions/{sessionId}/prediction/head
func (h *TrainingHandler) GetPredictionHead(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	frame, _ := h.loadPrediction(w, sessionID)
	if frame == nil {
		return
	}
	head := frame.Head(10)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id": sessionID,
		"total_rows": frame.NumRows(),
		"columns":    head.Columns(),
		"rows":       head.Records(),
	})
}

// loadPrediction 加载预测结果并处理通用错误响应，失败时返回nil frame
func (h *TrainingHandler) loadPrediction(w http.ResponseWriter, sessionID string) (*dataset.Frame, *session.Metadata) {
	f, m, err := h.orch.PredictionFrame(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case m != nil && !m.Status.IsTerminal():
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusNotFound)
		}
		return nil, m
	}
	return f, m
}

// readUpload 读取一个multipart文件字段
func readUpload(r *http.Request, field string) (string, []byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return header.Filename, data, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
