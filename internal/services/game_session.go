// internal/services/game_session.go
package services

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/llm"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/utils"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	StatusIdle   SessionStatus = "idle"
	StatusActive SessionStatus = "active"
)

// Completer 会话依赖的补全接口
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, onChunk ChunkHandler) (*llm.CompletionResponse, error)
}

// SessionDeps 会话运行所需的服务
type SessionDeps struct {
	LLM          Completer
	Saves        *SaveService
	Parser       *ResponseParser
	HistoryLimit int
	HistoryKeep  int
}

// LaunchRequest 开局参数
type LaunchRequest struct {
	World     *models.World
	Character models.Character
	Arc       string
	Age       int
	Mode      StartMode
}

// TurnResult 一次补全的结果
type TurnResult struct {
	Index        int          `json:"index"`
	Parsed       *ParseResult `json:"reply,omitempty"`
	AutosaveSlot string       `json:"autosave_slot,omitempty"`
	// Skipped 为 true 表示没有发起请求（例如最后一条不是助手消息时的重掷）
	Skipped bool `json:"skipped,omitempty"`
}

// GameSession 单个会话的状态机，Idle ↔ Active
// 不是并发安全的，调用方通过 LockManager 串行化访问
type GameSession struct {
	ID     string
	status SessionStatus
	state  *models.SessionState
	deps   SessionDeps

	// 最后一条助手消息应用之前的派生字段，用于重掷
	lastDerived      *models.DerivedState
	lastDerivedIndex int
}

// NewGameSession 创建空闲会话
func NewGameSession(id string, deps SessionDeps) *GameSession {
	if deps.Parser == nil {
		deps.Parser = NewResponseParser("")
	}
	return &GameSession{
		ID:               id,
		status:           StatusIdle,
		deps:             deps,
		lastDerivedIndex: -1,
	}
}

// Status 返回会话状态
func (g *GameSession) Status() SessionStatus {
	return g.status
}

// State 返回会话状态的副本
func (g *GameSession) State() *models.SessionState {
	if g.state == nil {
		return nil
	}
	return g.state.Clone()
}

func (g *GameSession) requireActive() error {
	if g.status != StatusActive || g.state == nil {
		return appErrors.NewValidationError("会话未激活", nil)
	}
	return nil
}

// validate 检查开局参数，返回剧情阶段的锚定年份
func (req LaunchRequest) validate() (int, error) {
	if req.World == nil {
		return 0, appErrors.NewValidationError("必须选择世界", nil)
	}
	if strings.TrimSpace(req.Character.Name) == "" {
		return 0, appErrors.NewValidationError("角色名不能为空", nil)
	}
	if req.Age < 0 {
		return 0, appErrors.NewValidationError("年龄不能为负数", nil)
	}
	arcYear, exists := req.World.Arcs[req.Arc]
	if !exists {
		return 0, appErrors.NewValidationError(fmt.Sprintf("剧情阶段不存在: %s", req.Arc), nil)
	}
	switch req.Mode {
	case ModeBorn, ModeDropIn:
	default:
		return 0, appErrors.NewValidationError(fmt.Sprintf("未知的开局方式: %s", req.Mode), nil)
	}
	return arcYear, nil
}

// Launch 创建系统消息并请求开场
// 开场补全失败时会话仍保持激活，只包含系统消息，可以用 Continue 重试
func (g *GameSession) Launch(ctx context.Context, req LaunchRequest, onChunk ChunkHandler) (*TurnResult, error) {
	if g.status == StatusActive {
		return nil, appErrors.NewConflictError("会话已经在进行中", nil)
	}
	arcYear, err := req.validate()
	if err != nil {
		return nil, err
	}
	if req.Character.Alignment == "" {
		req.Character.Alignment = models.AlignmentNeutral
	}

	start := ResolveStart(arcYear, req.Age, req.Mode)
	systemPrompt := BuildSystemPrompt(req.World, req.Character, start)

	g.state = models.NewSessionState(req.Character, req.World, systemPrompt, InitialStats(start), start.Intro)
	g.status = StatusActive
	g.lastDerived = nil
	g.lastDerivedIndex = -1

	utils.GetLogger().Info("session launched", map[string]interface{}{
		"session_id": g.ID,
		"world":      req.World.WorldName,
		"character":  req.Character.Name,
		"year":       start.Year,
		"age":        start.Age,
	})

	return g.generate(ctx, onChunk)
}

// Resume 从存档快照恢复为激活状态
func (g *GameSession) Resume(state *models.SessionState) error {
	if g.status == StatusActive {
		return appErrors.NewConflictError("会话已经在进行中", nil)
	}
	if state == nil || state.World == nil || len(state.Transcript) == 0 {
		return appErrors.NewValidationError("存档内容不完整", nil)
	}

	g.state = state.Clone()
	g.status = StatusActive
	g.lastDerived = nil
	g.lastDerivedIndex = -1
	return nil
}

// SubmitAction 追加玩家输入并请求回复，失败时撤销输入
func (g *GameSession) SubmitAction(ctx context.Context, text string, onChunk ChunkHandler) (*TurnResult, error) {
	if err := g.requireActive(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, appErrors.NewValidationError("行动内容不能为空", nil)
	}

	return g.transact(ctx, onChunk, func() {
		g.state.Transcript = append(g.state.Transcript, models.Turn{Role: models.RoleUser, Content: text})
	})
}

// Reroll 丢弃最后一条助手回复并重新请求
// 最后一条不是助手消息时不做任何事
func (g *GameSession) Reroll(ctx context.Context, onChunk ChunkHandler) (*TurnResult, error) {
	if err := g.requireActive(); err != nil {
		return nil, err
	}

	last, ok := g.state.LastTurn()
	if !ok || last.Role != models.RoleAssistant {
		return &TurnResult{Index: len(g.state.Transcript) - 1, Skipped: true}, nil
	}

	return g.transact(ctx, onChunk, func() {
		popped := len(g.state.Transcript) - 1
		g.state.Transcript = g.state.Transcript[:popped]
		if g.lastDerivedIndex == popped {
			g.state.RestoreDerived(g.lastDerived)
		}
		g.lastDerived = nil
		g.lastDerivedIndex = -1
	})
}

// Continue 不追加输入，直接请求下一段
func (g *GameSession) Continue(ctx context.Context, onChunk ChunkHandler) (*TurnResult, error) {
	if err := g.requireActive(); err != nil {
		return nil, err
	}
	return g.transact(ctx, onChunk, func() {})
}

// transact 执行修改并请求补全，失败时恢复到修改之前
func (g *GameSession) transact(ctx context.Context, onChunk ChunkHandler, mutate func()) (*TurnResult, error) {
	backup := g.state.Clone()
	backupDerived, backupIndex := g.lastDerived, g.lastDerivedIndex

	mutate()

	result, err := g.generate(ctx, onChunk)
	if err != nil {
		g.state = backup
		g.lastDerived, g.lastDerivedIndex = backupDerived, backupIndex
		return nil, err
	}
	return result, nil
}

// generate 请求补全，追加助手消息，解析标签并自动存档
func (g *GameSession) generate(ctx context.Context, onChunk ChunkHandler) (*TurnResult, error) {
	bounded := BoundHistory(g.state.Transcript, g.deps.HistoryLimit, g.deps.HistoryKeep)

	resp, err := g.deps.LLM.Complete(ctx, ToMessages(bounded), onChunk)
	if err != nil {
		return nil, err
	}

	before := g.state.CaptureDerived()
	g.state.Transcript = append(g.state.Transcript, models.Turn{Role: models.RoleAssistant, Content: resp.Text})
	index := len(g.state.Transcript) - 1

	parsed := g.deps.Parser.ParseResponse(resp.Text)
	g.state.ApplyUpdate(parsed.TurnUpdate)
	g.lastDerived = before
	g.lastDerivedIndex = index

	if parsed.Stats == nil {
		utils.GetMetricsCollector().IncrementCounter(utils.MetricTagMisses)
	}

	result := &TurnResult{Index: index, Parsed: parsed}

	if g.deps.Saves != nil {
		slot, err := g.deps.Saves.Autosave(ctx, g.state)
		if err != nil {
			// 回复已经生效，存档失败只记录
			utils.GetLogger().Warn("autosave failed", map[string]interface{}{
				"session_id": g.ID,
				"slot":       slot,
				"error":      err.Error(),
			})
		} else {
			result.AutosaveSlot = slot
		}
	}

	return result, nil
}

// EditTurn 修改任意一条消息的内容，不重新解析标签
func (g *GameSession) EditTurn(index int, content string) error {
	if err := g.requireActive(); err != nil {
		return err
	}
	if index < 0 || index >= len(g.state.Transcript) {
		return appErrors.NewValidationError(fmt.Sprintf("消息索引越界: %d", index), nil)
	}
	g.state.Transcript[index].Content = content
	return nil
}

// Save 手动写入自动存档槽位
func (g *GameSession) Save(ctx context.Context) (string, error) {
	if err := g.requireActive(); err != nil {
		return "", err
	}
	if g.deps.Saves == nil {
		return "", appErrors.NewProcessingError("存档服务不可用", nil)
	}
	return g.deps.Saves.Autosave(ctx, g.state)
}

// Exit 结束会话并丢弃内存中的状态，不会强制存档
func (g *GameSession) Exit() {
	g.status = StatusIdle
	g.state = nil
	g.lastDerived = nil
	g.lastDerivedIndex = -1
}

// ArcStatus 剧情阶段相对当前年份的位置
type ArcStatus string

const (
	ArcPast    ArcStatus = "past"
	ArcCurrent ArcStatus = "current"
	ArcFuture  ArcStatus = "future"
)

// TimelineEntry 剧情阶段追踪项
type TimelineEntry struct {
	Name   string    `json:"name"`
	Year   int       `json:"year"`
	Status ArcStatus `json:"status"`
}

var (
	yearStatPattern = regexp.MustCompile(`Year:\s*(-?\d+)`)
	ageStatPattern  = regexp.MustCompile(`Age:\s*(\d+)`)
)

// CurrentYear 从状态文本中读取当前年份，没有 Year 时退回 Age
func CurrentYear(stats string) (int, bool) {
	for _, pattern := range []*regexp.Regexp{yearStatPattern, ageStatPattern} {
		if match := pattern.FindStringSubmatch(stats); match != nil {
			if value, err := strconv.Atoi(match[1]); err == nil {
				return value, true
			}
		}
	}
	return 0, false
}

// Timeline 按年份列出剧情阶段及其状态，无法确定当前年份时全部视为未来
func (g *GameSession) Timeline() ([]TimelineEntry, error) {
	if err := g.requireActive(); err != nil {
		return nil, err
	}

	year, known := CurrentYear(g.state.CurrentStats)
	arcs := g.state.World.SortedArcs()
	entries := make([]TimelineEntry, 0, len(arcs))
	for _, arc := range arcs {
		status := ArcFuture
		if known {
			switch {
			case year > arc.Year+1:
				status = ArcPast
			case year >= arc.Year:
				status = ArcCurrent
			}
		}
		entries = append(entries, TimelineEntry{Name: arc.Name, Year: arc.Year, Status: status})
	}
	return entries, nil
}

// DirectorLog 返回最近一次导演推理
func (g *GameSession) DirectorLog() (string, error) {
	if err := g.requireActive(); err != nil {
		return "", err
	}
	return g.state.DirectorLog, nil
}

// TurnView 展示用的消息
type TurnView struct {
	Index       int         `json:"index"`
	Role        models.Role `json:"role"`
	Content     string      `json:"content"`
	DisplayHTML string      `json:"display_html,omitempty"`
}

// SessionView 会话的展示快照
type SessionView struct {
	ID        string                         `json:"id"`
	Status    SessionStatus                  `json:"status"`
	World     string                         `json:"world,omitempty"`
	Character *models.Character              `json:"character,omitempty"`
	Stats     string                         `json:"stats"`
	StatCards []string                       `json:"stat_cards"`
	Socials   map[string]models.SocialRecord `json:"socials"`
	Events    []string                       `json:"events"`
	Context   string                         `json:"context,omitempty"`
	Turns     []TurnView                     `json:"turns"`
}

// View 生成展示快照，助手消息按当前解析模式重新渲染
func (g *GameSession) View() *SessionView {
	view := &SessionView{
		ID:        g.ID,
		Status:    g.status,
		StatCards: []string{},
		Socials:   map[string]models.SocialRecord{},
		Events:    []string{},
		Turns:     []TurnView{},
	}
	if g.state == nil {
		return view
	}

	state := g.state.Clone()
	character := state.Character
	view.Character = &character
	if state.World != nil {
		view.World = state.World.WorldName
	}
	view.Stats = state.CurrentStats
	view.StatCards = state.StatCards()
	view.Socials = state.Socials
	view.Events = state.EventLog
	view.Context = state.Context

	for i, turn := range state.Transcript {
		tv := TurnView{Index: i, Role: turn.Role, Content: turn.Content}
		switch turn.Role {
		case models.RoleAssistant:
			tv.DisplayHTML = g.deps.Parser.ParseResponse(turn.Content).DisplayHTML
		case models.RoleUser:
			tv.DisplayHTML = html.EscapeString(turn.Content)
		}
		view.Turns = append(view.Turns, tv)
	}
	return view
}
