package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"AutoMLTrainPlatform/internal/orchestrator"
	"AutoMLTrainPlatform/internal/session"
)

// SystemHandler 平台状态处理器
type SystemHandler struct {
	orch      *orchestrator.Orchestrator
	dbEnabled bool
	startTime time.Time
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(orch *orchestrator.Orchestrator, dbEnabled bool) *SystemHandler {
	return &SystemHandler{orch: orch, dbEnabled: dbEnabled, startTime: time.Now()}
}

// SystemStatus 系统状态响应
type SystemStatus struct {
	Platform  string            `json:"platform"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	StartTime time.Time         `json:"start_time"`
	Training  TrainingStats     `json:"training"`
	Sessions  SessionStats      `json:"sessions"`
	Database  DatabaseStatus    `json:"database"`
	Memory    MemoryStats       `json:"memory"`
	Endpoints map[string]string `json:"endpoints"`
}

// TrainingStats 训练许可占用情况
type TrainingStats struct {
	SlotsInUse    int `json:"slots_in_use"`
	SlotsCapacity int `json:"slots_capacity"`
}

// SessionStats 会话状态分布
type SessionStats struct {
	Total        int `json:"total"`
	Initializing int `json:"initializing"`
	Running      int `json:"running"`
	Predicting   int `json:"predicting"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
}

// DatabaseStatus 上传数据库状态
type DatabaseStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

// MemoryStats 内存统计
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// GetSystemStatus 获取系统状态
// GET /api/v1/status
func (h *SystemHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	stats := SessionStats{}
	if metas, err := h.orch.ListSessions(""); err == nil {
		stats.Total = len(metas)
		for _, m := range metas {
			switch m.Status {
			case session.StatusInitializing:
				stats.Initializing++
			case session.StatusRunning:
				stats.Running++
			case session.StatusPredicting:
				stats.Predicting++
			case session.StatusCompleted:
				stats.Completed++
			case session.StatusFailed:
				stats.Failed++
			}
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	limiter := h.orch.Limiter()
	status := SystemStatus{
		Platform:  "AutoML Training Platform",
		Version:   "1.0.0",
		Uptime:    time.Since(h.startTime).String(),
		StartTime: h.startTime,
		Training: TrainingStats{
			SlotsInUse:    limiter.InUse(),
			SlotsCapacity: limiter.Capacity(),
		},
		Sessions: stats,
		Database: DatabaseStatus{Enabled: h.dbEnabled, Driver: "pgx/v5"},
		Memory: MemoryStats{
			Alloc:      memStats.Alloc,
			TotalAlloc: memStats.TotalAlloc,
			Sys:        memStats.Sys,
			NumGC:      memStats.NumGC,
		},
		Endpoints: map[string]string{
			"submit_training": "POST /api/v1/train",
			"session_status":  "GET /api/v1/sessions/{sessionId}/status",
			"prediction_xlsx": "GET /api/v1/sessions/{sessionId}/prediction",
			"prediction_csv":  "GET /api/v1/sessions/{sessionId}/prediction.csv",
			"prediction_head": "GET /api/v1/sessions/{sessionId}/prediction/head",
			"list_sessions":   "GET /api/v1/sessions",
			"logs_websocket":  "GET /logs/ws",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// HealthCheck 健康检查
// GET /health
func (h *SystemHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}
