package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"AutoMLTrainPlatform/api/handlers"
	"AutoMLTrainPlatform/internal/config"
	"AutoMLTrainPlatform/internal/database"
	"AutoMLTrainPlatform/internal/engine"
	"AutoMLTrainPlatform/internal/logger"
	"AutoMLTrainPlatform/internal/orchestrator"
	"AutoMLTrainPlatform/internal/session"
)

var (
	port        = flag.Int("port", 0, "服务器端口（0表示使用配置文件）")
	sessionRoot = flag.String("session-root", "", "会话存储根目录（空表示使用配置文件）")
	watchConfig = flag.Bool("watch-config", false, "监听配置文件变更并热加载")
)

func main() {
	flag.Parse()

	fmt.Println("🤖 AutoML 训练平台 v1.0")
	fmt.Println("==========================================")
	fmt.Println()

	// 初始化WebSocket日志器
	logger.InitGlobalLogger()
	logger.LogInfo("系统", "AutoML训练平台启动中...", "")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *sessionRoot != "" {
		cfg.Storage.SessionRoot = *sessionRoot
	}
	if *watchConfig {
		config.Watch()
	}

	// 会话存储
	store, err := session.NewStore(cfg.Storage.SessionRoot)
	if err != nil {
		log.Fatalf("❌ 初始化会话存储失败: %v", err)
	}
	logger.LogInfo("系统", fmt.Sprintf("会话存储根目录: %s", cfg.Storage.SessionRoot), "")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 过期会话清理：启动时先扫一遍，之后按配置周期执行
	sweeper := session.NewSweeper(store, cfg.Storage.RetentionWindow)
	sweeper.Start(rootCtx, cfg.Storage.SweepInterval)

	// 可选的预测结果上传数据库
	var uploader orchestrator.Uploader
	var dbUploader *database.PredictionUploader
	if cfg.Database.Enabled {
		dbConfig := &database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		fmt.Printf("🔗 连接数据库: %s:%d/%s\n", dbConfig.Host, dbConfig.Port, dbConfig.DBName)
		pool, err := database.ConnectPgx(rootCtx, dbConfig)
		if err != nil {
			log.Fatalf("❌ 数据库连接失败: %v", err)
		}
		dbUploader = database.NewPredictionUploader(pool)
		uploader = dbUploader
	}

	// 编排器和处理器
	orch := orchestrator.New(rootCtx, store, engine.NewBaseline(),
		cfg.Training.MaxConcurrentTrainings, uploader)
	trainingHandler := handlers.NewTrainingHandler(orch, cfg.Server.MaxUploadBytes)
	systemHandler := handlers.NewSystemHandler(orch, cfg.Database.Enabled)

	// 路由
	router := mux.NewRouter()
	registerAPIRoutes(router, trainingHandler, systemHandler)
	registerStaticRoutes(router)

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		fmt.Printf("🚀 服务器启动在端口 %d\n", cfg.Server.Port)
		fmt.Printf("📊 系统状态: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
		fmt.Printf("🎯 训练提交: POST http://localhost:%d/api/v1/train\n", cfg.Server.Port)
		fmt.Printf("⚙️  并发训练上限: %d\n", cfg.Training.MaxConcurrentTrainings)
		fmt.Println()
		fmt.Println("🤖 AutoML训练平台功能:")
		fmt.Println("  ✅ 异步训练会话编排")
		fmt.Println("  ✅ 缺失值填充与表格数据预处理")
		fmt.Println("  ✅ 模型排行榜与特征重要性")
		fmt.Println("  ✅ Excel/CSV预测结果导出")
		fmt.Println("  ✅ 可选的PostgreSQL结果上传")
		fmt.Println("  ✅ WebSocket实时日志流")
		fmt.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🔄 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器关闭错误: %v", err)
	}
	rootCancel()
	orch.Wait()
	if dbUploader != nil {
		dbUploader.Close()
	}

	fmt.Println("✅ 服务器已关闭")
}

// registerAPIRoutes 注册API路由
func registerAPIRoutes(router *mux.Router, trainingHandler *handlers.TrainingHandler, systemHandler *handlers.SystemHandler) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// 系统相关
	api.HandleFunc("/status", systemHandler.GetSystemStatus).Methods("GET")

	// 训练会话
	api.HandleFunc("/train", trainingHandler.SubmitTraining).Methods("POST")
	api.HandleFunc("/sessions", trainingHandler.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/status", trainingHandler.GetSessionStatus).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction", trainingHandler.DownloadPredictionXLSX).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction.csv", trainingHandler.DownloadPredictionCSV).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/prediction/head", trainingHandler.GetPredictionHead).Methods("GET")

	// 健康检查
	router.HandleFunc("/health", systemHandler.HealthCheck).Methods("GET")

	// WebSocket日志流
	router.HandleFunc("/logs/ws", logger.GlobalLogger.HandleWebSocket)
}

// registerStaticRoutes 注册页面路由
func registerStaticRoutes(router *mux.Router) {
	router.HandleFunc("/dashboard", serveDashboard).Methods("GET")
	router.HandleFunc("/", serveDashboard).Methods("GET")
}

// serveDashboard 提供简易监控页面
func serveDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, dashboardHTML)
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AutoML 训练平台</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 2rem; line-height: 1.6; background: #f7f9fb; }
        .header { text-align: center; margin-bottom: 2rem; }
        .cards { display: flex; gap: 1rem; flex-wrap: wrap; justify-content: center; }
        .card { background: white; border: 1px solid #ddd; border-radius: 8px; padding: 1rem 1.5rem; min-width: 220px; }
        .card h3 { margin-top: 0; }
        .metric { font-size: 2rem; font-weight: bold; color: #2c7be5; }
        table { border-collapse: collapse; width: 100%; margin-top: 2rem; background: white; }
        th, td { border: 1px solid #ddd; padding: 0.5rem 0.75rem; text-align: left; font-size: 0.9rem; }
        th { background: #f1f4f8; }
        .status-completed { color: #1a7f37; }
        .status-failed { color: #d1242f; }
        .status-running, .status-predicting { color: #9a6700; }
        #log { background: #0d1117; color: #d4d4d4; padding: 1rem; border-radius: 8px; height: 220px; overflow-y: auto; font-family: monospace; font-size: 0.8rem; margin-top: 2rem; }
    </style>
</head>
<body>
    <div class="header">
        <h1>🤖 AutoML 训练平台</h1>
        <p>异步表格数据训练会话监控</p>
    </div>
    <div class="cards">
        <div class="card"><h3>训练许可</h3><div class="metric" id="slots">-</div></div>
        <div class="card"><h3>会话总数</h3><div class="metric" id="total">-</div></div>
        <div class="card"><h3>已完成</h3><div class="metric" id="completed">-</div></div>
        <div class="card"><h3>失败</h3><div class="metric" id="failed">-</div></div>
    </div>
    <table>
        <thead><tr><th>会话ID</th><th>状态</th><th>进度</th><th>目标列</th><th>创建时间</th></tr></thead>
        <tbody id="sessions"></tbody>
    </table>
    <div id="log"></div>
    <script>
        async function refresh() {
            try {
                const status = await (await fetch('/api/v1/status')).json();
                document.getElementById('slots').textContent =
                    status.training.slots_in_use + ' / ' + status.training.slots_capacity;
                document.getElementById('total').textContent = status.sessions.total;
                document.getElementById('completed').textContent = status.sessions.completed;
                document.getElementById('failed').textContent = status.sessions.failed;

                const list = await (await fetch('/api/v1/sessions?limit=20')).json();
                document.getElementById('sessions').innerHTML = list.sessions.map(s =>
                    '<tr><td>' + s.session_id + '</td>' +
                    '<td class="status-' + s.status + '">' + s.status + '</td>' +
                    '<td>' + s.progress + '%</td>' +
                    '<td>' + (s.training_parameters ? s.training_parameters.target_column : '') + '</td>' +
                    '<td>' + new Date(s.created_at).toLocaleString() + '</td></tr>').join('');
            } catch (e) { /* 服务暂不可达时保持上次内容 */ }
        }
        refresh();
        setInterval(refresh, 5000);

        const log = document.getElementById('log');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/logs/ws');
        ws.onmessage = ev => {
            const entry = JSON.parse(ev.data);
            const line = document.createElement('div');
            line.textContent = '[' + entry.level.toUpperCase() + '] ' + entry.module + ': ' + entry.message;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        };
    </script>
</body>
</html>`
