// internal/api/router.go
package api

import (
	"fmt"

	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/di"
	"github.com/Corphon/SekaiHub/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 从容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	worldService, err := di.Resolve[*services.WorldService](container, di.ServiceWorlds)
	if err != nil {
		return nil, fmt.Errorf("世界服务未正确初始化: %w", err)
	}

	presetService, err := di.Resolve[*services.PresetService](container, di.ServicePresets)
	if err != nil {
		return nil, fmt.Errorf("预设服务未正确初始化: %w", err)
	}

	saveService, err := di.Resolve[*services.SaveService](container, di.ServiceSaves)
	if err != nil {
		return nil, fmt.Errorf("存档服务未正确初始化: %w", err)
	}

	sessionService, err := di.Resolve[*services.SessionService](container, di.ServiceSessions)
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}

	// LLM 服务缺失时状态接口返回 503，其余接口照常工作
	llmService, _ := di.Resolve[*services.LLMService](container, di.ServiceLLM)

	handler := NewHandler(worldService, presetService, saveService, sessionService, llmService)

	debug := true
	if cfg := config.GetCurrentConfig(); cfg != nil {
		debug = cfg.DebugMode
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	return NewRouter(handler, ActionRateLimit()), nil
}

// NewRouter 注册全部路由，limiter 作用于会触发补全的接口
func NewRouter(handler *Handler, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(corsMiddleware())

	wsHandler := NewWebSocketHandler(handler.Sessions, limiter)
	generate := limiter.Middleware()

	api := r.Group("/api")
	{
		// 世界设定
		api.GET("/worlds", handler.ListWorlds)
		api.GET("/worlds/:name", handler.GetWorld)

		// 角色预设
		api.GET("/presets", handler.ListPresets)
		api.GET("/presets/:name", handler.GetPreset)
		api.POST("/presets", handler.SavePreset)

		// 存档
		api.GET("/saves", handler.ListSaves)
		api.POST("/saves/:name/load", handler.LoadSave)

		// 会话
		sessions := api.Group("/sessions")
		{
			sessions.GET("", handler.ListSessions)
			sessions.POST("", generate, handler.LaunchSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.POST("/:id/actions", generate, handler.SubmitAction)
			sessions.POST("/:id/reroll", generate, handler.Reroll)
			sessions.POST("/:id/continue", generate, handler.Continue)
			sessions.PUT("/:id/turns/:index", handler.EditTurn)
			sessions.POST("/:id/save", handler.SaveSession)
			sessions.GET("/:id/timeline", handler.GetTimeline)
			sessions.GET("/:id/director", handler.GetDirector)
			sessions.DELETE("/:id", handler.ExitSession)
		}

		// LLM 与运行状态
		api.GET("/llm/status", handler.GetLLMStatus)
		api.GET("/llm/models", handler.GetLLMModels)
		api.PUT("/llm/config", handler.UpdateLLMConfig)
		api.GET("/metrics", handler.GetMetrics)
	}

	r.GET("/ws/sessions/:id", generate, wsHandler.SessionWebSocket)

	return r
}
