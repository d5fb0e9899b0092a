// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Corphon/SekaiHub/internal/utils"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	encryptionKey string
)

// 叙事解析模式
const (
	ParseModeStrip    = "strip"    // 逐个标签正则剥离，允许标签穿插在正文中
	ParseModeTruncate = "truncate" // 遇到第一个标签前导符即截断
)

// 存档后端
const (
	SaveBackendFile   = "file"
	SaveBackendSQLite = "sqlite"
)

// Config 存储应用配置（来自环境变量）
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	DataDir    string `env:"DATA_DIR" envDefault:"data"`
	WorldsDir  string `env:"WORLDS_DIR" envDefault:"data/worlds"`
	PresetsDir string `env:"PRESETS_DIR" envDefault:"data/presets"`
	SavesDir   string `env:"SAVES_DIR" envDefault:"data/saves"`
	LogDir     string `env:"LOG_DIR" envDefault:"logs"`
	DebugMode  bool   `env:"DEBUG_MODE" envDefault:"true"`

	// 设置后 config.json 中的API密钥以密文保存
	EncryptionKey string `env:"CONFIG_ENCRYPTION_KEY"`

	// LLM相关配置
	LLMProvider   string  `env:"LLM_PROVIDER" envDefault:"groq"`
	LLMAPIKey     string  `env:"LLM_API_KEY"`
	LLMBaseURL    string  `env:"LLM_BASE_URL"`
	LLMModel      string  `env:"LLM_MODEL" envDefault:"llama-3.3-70b-versatile"`
	FallbackModel string  `env:"FALLBACK_MODEL" envDefault:"llama-3.1-8b-instant"`
	Temperature   float32 `env:"TEMPERATURE" envDefault:"0.8"`
	Streaming     bool    `env:"STREAMING" envDefault:"false"`

	// 会话相关配置
	ParseMode    string `env:"PARSE_MODE" envDefault:"strip"`
	SaveBackend  string `env:"SAVE_BACKEND" envDefault:"file"`
	HistoryLimit int    `env:"HISTORY_LIMIT" envDefault:"15"`
	HistoryKeep  int    `env:"HISTORY_KEEP" envDefault:"10"`
}

// AppConfig 包含运行期可修改并持久化的配置
type AppConfig struct {
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider     string            `json:"llm_provider"`
	LLMConfig       map[string]string `json:"llm_config"`
	EncryptedAPIKey string            `json:"encrypted_api_key,omitempty"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	switch cfg.ParseMode {
	case ParseModeStrip, ParseModeTruncate:
	default:
		return nil, fmt.Errorf("未知的解析模式: %s", cfg.ParseMode)
	}

	switch cfg.SaveBackend {
	case SaveBackendFile, SaveBackendSQLite:
	default:
		return nil, fmt.Errorf("未知的存档后端: %s", cfg.SaveBackend)
	}

	if cfg.HistoryKeep <= 0 || cfg.HistoryLimit < cfg.HistoryKeep {
		return nil, fmt.Errorf("历史截断参数无效: limit=%d keep=%d", cfg.HistoryLimit, cfg.HistoryKeep)
	}

	// 只记录警告，不返回错误
	if cfg.LLMAPIKey == "" {
		log.Println("警告: 未设置LLM API密钥，将需要通过 /api/llm/config 配置才能使用补全功能")
	}

	return cfg, nil
}

// LLMSettings 将环境配置转换为提供者配置表
func (c *Config) LLMSettings() map[string]string {
	settings := map[string]string{
		"api_key":        c.LLMAPIKey,
		"default_model":  c.LLMModel,
		"fallback_model": c.FallbackModel,
		"temperature":    strconv.FormatFloat(float64(c.Temperature), 'f', -1, 32),
	}
	if c.LLMBaseURL != "" {
		settings["base_url"] = c.LLMBaseURL
	}
	return settings
}

// InitConfig 初始化配置管理器
func InitConfig(cfg *Config) error {
	configFile = filepath.Join(cfg.DataDir, "config.json")
	encryptionKey = cfg.EncryptionKey

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:        cfg.Port,
		DataDir:     cfg.DataDir,
		LogDir:      cfg.LogDir,
		DebugMode:   cfg.DebugMode,
		LLMProvider: cfg.LLMProvider,
		LLMConfig:   cfg.LLMSettings(),
	}

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil && savedConfig.LLMProvider != "" {
			// 保留文件中的LLM设置，基础配置以环境变量为准
			savedConfig.Port = cfg.Port
			savedConfig.DataDir = cfg.DataDir
			savedConfig.LogDir = cfg.LogDir
			savedConfig.DebugMode = cfg.DebugMode

			if savedConfig.LLMConfig == nil {
				savedConfig.LLMConfig = map[string]string{}
			}
			if savedConfig.EncryptedAPIKey != "" {
				if key, err := utils.DecryptSecret(savedConfig.EncryptedAPIKey, encryptionKey); err == nil {
					savedConfig.LLMConfig["api_key"] = key
				} else {
					log.Printf("⚠️ 无法解密已保存的API密钥: %v", err)
				}
				savedConfig.EncryptedAPIKey = ""
			}
			// 如果文件中没有API密钥，使用环境变量的密钥
			if savedConfig.LLMConfig["api_key"] == "" {
				savedConfig.LLMConfig["api_key"] = cfg.LLMAPIKey
			}

			currentConfig = &savedConfig
		}
	}

	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return nil
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, settings map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = settings

	return saveConfigLocked()
}

// saveConfigLocked 保存当前配置到文件，调用方需持有 configMutex
func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	persisted := *currentConfig
	if apiKey := currentConfig.LLMConfig["api_key"]; encryptionKey != "" && apiKey != "" {
		sealed, err := utils.EncryptSecret(apiKey, encryptionKey)
		if err != nil {
			return fmt.Errorf("加密API密钥失败: %w", err)
		}
		persisted.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
		for k, v := range currentConfig.LLMConfig {
			if k != "api_key" {
				persisted.LLMConfig[k] = v
			}
		}
		persisted.EncryptedAPIKey = sealed
	}

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}
