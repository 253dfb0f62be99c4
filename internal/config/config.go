package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlatformConfig 平台统一配置结构
type PlatformConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Training TrainingConfig `mapstructure:"training"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// StorageConfig 会话存储配置
type StorageConfig struct {
	SessionRoot     string        `mapstructure:"session_root"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// TrainingConfig 训练调度配置
type TrainingConfig struct {
	MaxConcurrentTrainings int    `mapstructure:"max_concurrent_trainings"`
	DefaultPreset          string `mapstructure:"default_preset"`
	DefaultTimeLimit       int    `mapstructure:"default_time_limit"`
}

// DatabaseConfig 预测结果上传数据库配置
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

var (
	globalConfig  *PlatformConfig
	viperInstance *viper.Viper
	loadOnce      sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// Load 加载平台配置（仅执行一次）。配置文件缺失时使用默认值。
func Load() (*PlatformConfig, error) {
	loadOnce.Do(func() {
		globalConfig, viperInstance, loadErr = loadConfigFromFile()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig, nil
}

// Get 返回当前配置。未显式Load时按默认路径加载。
func Get() *PlatformConfig {
	cfg, err := Load()
	if err != nil {
		fmt.Printf("Warning: failed to load config, using defaults: %v\n", err)
		cfg = defaultConfig()
	}
	return cfg
}

// loadConfigFromFile 使用Viper从文件加载配置
func loadConfigFromFile() (*PlatformConfig, *viper.Viper, error) {
	v := viper.New()

	// 配置文件搜索路径
	v.SetConfigName("automl-config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath(".")

	// 环境变量前缀，如 AUTOML_SERVER_PORT
	v.SetEnvPrefix("AUTOML")
	v.AutomaticEnv()

	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时静默使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg PlatformConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, v, nil
}

// setDefaultValues 设置默认配置值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", int64(256<<20))

	v.SetDefault("storage.session_root", "./sessions")
	v.SetDefault("storage.retention_window", "24h")
	v.SetDefault("storage.sweep_interval", "1h")

	v.SetDefault("training.max_concurrent_trainings", 12)
	v.SetDefault("training.default_preset", "medium_quality")
	v.SetDefault("training.default_time_limit", 0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
}

// validateConfig 校验配置合法性
func validateConfig(cfg *PlatformConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Storage.SessionRoot == "" {
		return fmt.Errorf("storage.session_root must not be empty")
	}
	if cfg.Storage.RetentionWindow <= 0 {
		return fmt.Errorf("storage.retention_window must be positive")
	}
	if cfg.Training.MaxConcurrentTrainings <= 0 {
		return fmt.Errorf("training.max_concurrent_trainings must be positive")
	}
	switch cfg.Training.DefaultPreset {
	case "medium_quality", "high_quality", "best_quality":
	default:
		return fmt.Errorf("unknown training.default_preset: %q", cfg.Training.DefaultPreset)
	}
	return nil
}

// defaultConfig 纯默认配置
func defaultConfig() *PlatformConfig {
	v := viper.New()
	setDefaultValues(v)
	var cfg PlatformConfig
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Watch 监控配置文件变更并热更新（仅对后续Get生效）
func Watch() {
	if viperInstance == nil {
		return
	}
	viperInstance.WatchConfig()
	viperInstance.OnConfigChange(func(e fsnotify.Event) {
		var newConfig PlatformConfig
		if err := viperInstance.Unmarshal(&newConfig); err != nil {
			fmt.Printf("Warning: failed to reload config: %v\n", err)
			return
		}
		if err := validateConfig(&newConfig); err != nil {
			fmt.Printf("Warning: reloaded config invalid, keeping previous: %v\n", err)
			return
		}
		mu.Lock()
		globalConfig = &newConfig
		mu.Unlock()
		fmt.Printf("Config reloaded from %s\n", e.Name)
	})
}
