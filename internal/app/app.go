// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/SekaiHub/internal/api"
	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/di"
	"github.com/Corphon/SekaiHub/internal/services"
	"github.com/Corphon/SekaiHub/internal/storage"
	"github.com/Corphon/SekaiHub/internal/utils"

	// 注册 OpenAI 兼容的提供者（groq/openai/openrouter）
	_ "github.com/Corphon/SekaiHub/internal/llm/providers/openaicompat"
)

// Server 可启动和关闭的HTTP服务器
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.Config
	router   http.Handler
	server   Server
	stopChan chan os.Signal
}

var (
	instance *App
	appMutex sync.Mutex
)

// GetApp 获取应用单例
func GetApp() *App {
	appMutex.Lock()
	defer appMutex.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 按依赖顺序初始化日志、配置、服务和路由
func Initialize(cfg *config.Config) error {
	app := GetApp()
	app.config = cfg

	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}
	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	if err := config.InitConfig(cfg); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	if err := InitServices(cfg); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router

	return nil
}

func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	return utils.InitLogger(filepath.Join(logDir, "sekaihub.log"))
}

// InitServices 创建全部服务并注册到容器
// 名称: llm, worlds, presets, saves, sessions
func InitServices(cfg *config.Config) error {
	if config.GetCurrentConfig() == nil {
		if err := config.InitConfig(cfg); err != nil {
			return fmt.Errorf("初始化配置失败: %w", err)
		}
	}

	container := di.GetContainer()

	llmService := services.NewLLMService(services.OptionsFromConfig(cfg))
	if ready, state := llmService.GetProviderStatus(); !ready {
		log.Printf("⚠️ LLM服务未就绪: %s", state)
	}
	container.Register(di.ServiceLLM, llmService)

	worldService, err := services.NewWorldService(cfg.WorldsDir)
	if err != nil {
		return fmt.Errorf("创建世界服务失败: %w", err)
	}
	container.Register(di.ServiceWorlds, worldService)

	presetService, err := services.NewPresetService(cfg.PresetsDir)
	if err != nil {
		return fmt.Errorf("创建预设服务失败: %w", err)
	}
	container.Register(di.ServicePresets, presetService)

	store, err := openSaveStore(cfg)
	if err != nil {
		return fmt.Errorf("打开存档后端失败: %w", err)
	}
	saveService := services.NewSaveService(store)
	container.Register(di.ServiceSaves, saveService)

	sessionService := services.NewSessionService(worldService, presetService, services.SessionDeps{
		LLM:          llmService,
		Saves:        saveService,
		Parser:       services.NewResponseParser(cfg.ParseMode),
		HistoryLimit: cfg.HistoryLimit,
		HistoryKeep:  cfg.HistoryKeep,
	})
	container.Register(di.ServiceSessions, sessionService)

	utils.GetLogger().Info("services initialized", map[string]interface{}{
		"save_backend": cfg.SaveBackend,
		"parse_mode":   cfg.ParseMode,
		"provider":     llmService.GetProviderName(),
	})
	return nil
}

// openSaveStore 根据配置选择存档后端
func openSaveStore(cfg *config.Config) (storage.SaveStore, error) {
	switch cfg.SaveBackend {
	case config.SaveBackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, err
		}
		return storage.OpenSQLiteSaveStore(filepath.Join(cfg.DataDir, "saves.db"))
	default:
		return storage.NewFileSaveStore(cfg.SavesDir)
	}
}

// Run 启动HTTP服务器并阻塞到收到停止信号
func Run() error {
	app := GetApp()

	if app.server == nil {
		if app.router == nil || app.config == nil {
			return errors.New("应用尚未初始化")
		}
		app.server = &http.Server{
			Addr:              ":" + app.config.Port,
			Handler:           app.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	select {
	case err := <-serverErr:
		app.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-app.stopChan:
	}

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := app.server.Shutdown(ctx)
	app.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
	return nil
}

// cleanup 释放后台任务和存档连接
func (a *App) cleanup() {
	api.ShutdownWebSockets()

	for name, err := range di.GetContainer().CloseAll() {
		utils.GetLogger().Warn("failed to close service", map[string]interface{}{
			"service": name,
			"error":   err.Error(),
		})
	}
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// IsDebugMode 是否为调试模式
func (a *App) IsDebugMode() bool {
	return a.config != nil && a.config.DebugMode
}
