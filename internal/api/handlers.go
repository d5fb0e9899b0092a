// internal/api/handlers.go
package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/llm"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/services"
	"github.com/Corphon/SekaiHub/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	Worlds   *services.WorldService   // 世界设定
	Presets  *services.PresetService  // 角色预设
	Saves    *services.SaveService    // 存档
	Sessions *services.SessionService // 会话管理
	LLM      *services.LLMService     // 补全服务
	Response *ResponseHelper          // 响应助手
}

// ActionRequest 玩家行动请求
type ActionRequest struct {
	Text string `json:"text"`
}

// EditTurnRequest 修改历史消息请求
type EditTurnRequest struct {
	Content string `json:"content"`
}

// NewHandler 创建API处理器
func NewHandler(
	worlds *services.WorldService,
	presets *services.PresetService,
	saves *services.SaveService,
	sessions *services.SessionService,
	llmService *services.LLMService,
) *Handler {
	return &Handler{
		Worlds:   worlds,
		Presets:  presets,
		Saves:    saves,
		Sessions: sessions,
		LLM:      llmService,
		Response: NewResponseHelper(),
	}
}

// ===============================
// 世界设定
// ===============================

// ListWorlds 列出可用世界，损坏的记录跳过并在响应中计数
func (h *Handler) ListWorlds(c *gin.Context) {
	summaries, loadErrs := h.Worlds.ListWorlds()
	h.Response.Success(c, gin.H{
		"worlds":  summaries,
		"skipped": len(loadErrs),
	})
}

// GetWorld 获取世界设定及时间线概览
func (h *Handler) GetWorld(c *gin.Context) {
	world, err := h.Worlds.GetWorld(c.Param("name"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	data := gin.H{
		"world":   world,
		"arcs":    world.SortedArcs(),
		"preview": world.Preview(),
	}
	if year, ok := services.CanonStartYear(world); ok {
		data["canon_start_year"] = year
	}
	h.Response.Success(c, data)
}

// ===============================
// 角色预设
// ===============================

// ListPresets 列出角色预设名称
func (h *Handler) ListPresets(c *gin.Context) {
	names, err := h.Presets.ListPresets()
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, names)
}

// GetPreset 读取角色预设
func (h *Handler) GetPreset(c *gin.Context) {
	preset, err := h.Presets.LoadPreset(c.Param("name"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, preset)
}

// SavePreset 保存角色预设，同名覆盖
func (h *Handler) SavePreset(c *gin.Context) {
	var preset models.Preset
	if err := c.ShouldBindJSON(&preset); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if err := h.Presets.SavePreset(preset); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, preset, "预设已保存")
}

// ===============================
// 存档
// ===============================

// ListSaves 列出存档
func (h *Handler) ListSaves(c *gin.Context) {
	saves, err := h.Saves.ListSaves(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saves)
}

// LoadSave 读取存档并创建新会话
func (h *Handler) LoadSave(c *gin.Context) {
	view, err := h.Sessions.LoadSave(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, view, "存档已载入")
}

// ===============================
// 会话
// ===============================

// ListSessions 列出进行中的会话
func (h *Handler) ListSessions(c *gin.Context) {
	h.Response.Success(c, h.Sessions.ListSessions())
}

// LaunchSession 创建会话并生成开场
// 开场补全失败时会话仍然保留，响应同时携带会话快照与错误
func (h *Handler) LaunchSession(c *gin.Context) {
	var params services.LaunchParams
	if err := c.ShouldBindJSON(&params); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	outcome, err := h.Sessions.Launch(c.Request.Context(), params, nil)
	if err != nil {
		if outcome != nil {
			h.Response.FromErrorWithData(c, err, outcome)
			return
		}
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, outcome, "会话已创建")
}

// GetSession 获取会话快照
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Sessions.GetSession(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// SubmitAction 提交玩家行动
func (h *Handler) SubmitAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	outcome, err := h.Sessions.SubmitAction(c.Request.Context(), c.Param("id"), req.Text, nil)
	h.respondTurn(c, outcome, err)
}

// Reroll 重新生成最后一条回复
func (h *Handler) Reroll(c *gin.Context) {
	outcome, err := h.Sessions.Reroll(c.Request.Context(), c.Param("id"), nil)
	h.respondTurn(c, outcome, err)
}

// Continue 让模型继续叙述
func (h *Handler) Continue(c *gin.Context) {
	outcome, err := h.Sessions.Continue(c.Request.Context(), c.Param("id"), nil)
	h.respondTurn(c, outcome, err)
}

func (h *Handler) respondTurn(c *gin.Context, outcome *services.TurnOutcome, err error) {
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	if outcome.Turn != nil && outcome.Turn.Skipped {
		h.Response.Success(c, outcome, "没有可重新生成的回复")
		return
	}
	h.Response.Success(c, outcome)
}

// EditTurn 修改一条历史消息
func (h *Handler) EditTurn(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidTurn, "无效的消息序号", err.Error())
		return
	}

	var req EditTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	view, err := h.Sessions.EditTurn(c.Param("id"), index, req.Content)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view, "消息已更新")
}

// SaveSession 手动存档
func (h *Handler) SaveSession(c *gin.Context) {
	slot, err := h.Sessions.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"slot": slot}, "存档成功")
}

// GetTimeline 剧情阶段追踪
func (h *Handler) GetTimeline(c *gin.Context) {
	entries, err := h.Sessions.Timeline(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, entries)
}

// GetDirector 导演推理调试视图
func (h *Handler) GetDirector(c *gin.Context) {
	director, err := h.Sessions.Director(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"director": director})
}

// ExitSession 结束会话
func (h *Handler) ExitSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.Sessions.Exit(sessionID); err != nil {
		h.Response.FromError(c, err)
		return
	}
	wsManager.CloseSession(sessionID)
	h.Response.Success(c, nil, "会话已结束")
}

// ===============================
// LLM 与运行状态
// ===============================

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	if h.LLM == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, "无法获取LLM服务实例")
		return
	}

	ready, state := h.LLM.GetProviderStatus()
	model, fallback := h.LLM.Models()
	status := gin.H{
		"ready":          ready,
		"status":         state,
		"provider":       h.LLM.GetProviderName(),
		"model":          model,
		"fallback_model": fallback,
	}

	if cfg := config.GetCurrentConfig(); cfg != nil {
		status["config"] = gin.H{
			"provider":    cfg.LLMProvider,
			"has_api_key": cfg.LLMConfig["api_key"] != "",
		}
	}

	h.Response.Success(c, status)
}

// GetLLMModels 获取LLM提供商支持的模型列表，未指定时使用当前提供商
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")
	if provider == "" && h.LLM != nil {
		provider = h.LLM.GetProviderName()
	}

	providers := llm.ListProviders()
	if provider == "" || !slices.Contains(providers, provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMProviderUnknown,
			"不支持的LLM提供商: "+provider)
		return
	}

	h.Response.Success(c, gin.H{
		"provider":  provider,
		"models":    llm.GetSupportedModelsForProvider(provider),
		"providers": providers,
	})
}

// UpdateLLMConfig 更新LLM配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if !slices.Contains(llm.ListProviders(), req.Provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMProviderUnknown,
			"不支持的LLM提供商: "+req.Provider)
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorConfigUpdateFailed, "配置更新失败", err.Error())
		return
	}

	if h.LLM == nil {
		h.Response.Error(c, http.StatusPartialContent, ErrorLLMServiceUnavailable,
			"配置已保存，但无法获取LLM服务", "请重启应用以使配置生效")
		return
	}

	if err := h.LLM.UpdateProvider(req.Provider, req.Config); err != nil {
		// 配置已保存，但 LLM 服务更新失败
		h.Response.Error(c, http.StatusPartialContent, ErrorConfigUpdatedLLMFailed,
			"配置已保存，但LLM服务更新失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "LLM配置更新成功")
}

// GetMetrics 运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := utils.GetMetricsCollector().GetMetrics()
	metrics["websocket"] = wsManager.GetStatus()
	h.Response.Success(c, metrics)
}
