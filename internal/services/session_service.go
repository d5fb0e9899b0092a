// internal/services/session_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/utils"
	"github.com/google/uuid"
)

// LaunchParams 开局请求，世界按名称引用
type LaunchParams struct {
	World      string           `json:"world" binding:"required"`
	Character  models.Character `json:"character" binding:"required"`
	Arc        string           `json:"arc" binding:"required"`
	Age        int              `json:"age"`
	Mode       StartMode        `json:"mode" binding:"required"`
	SavePreset bool             `json:"save_preset"`
}

// TurnOutcome 一次操作后的会话快照和回复
type TurnOutcome struct {
	Session *SessionView `json:"session"`
	Turn    *TurnResult  `json:"turn,omitempty"`
}

// SessionService 管理所有进行中的会话
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*GameSession

	locks   *LockManager
	worlds  *WorldService
	presets *PresetService
	saves   *SaveService
	deps    SessionDeps
	metrics *utils.MetricsCollector
}

// NewSessionService 创建会话服务
func NewSessionService(worlds *WorldService, presets *PresetService, deps SessionDeps) *SessionService {
	return &SessionService{
		sessions: make(map[string]*GameSession),
		locks:    NewLockManager(),
		worlds:   worlds,
		presets:  presets,
		saves:    deps.Saves,
		deps:     deps,
		metrics:  utils.GetMetricsCollector(),
	}
}

// Close 停止后台任务
func (s *SessionService) Close() {
	s.locks.Stop()
}

func (s *SessionService) register() *GameSession {
	session := NewGameSession(uuid.New().String(), s.deps)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.metrics.IncGauge(utils.MetricSessionsActive)
	return session
}

func (s *SessionService) lookup(id string) (*GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, appErrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", id), nil)
	}
	return session, nil
}

// ListSessions 列出所有会话ID
func (s *SessionService) ListSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Launch 创建新会话并请求开场
// 会话创建后开场补全失败时，返回的快照仍然有效，错误为 ProviderError
func (s *SessionService) Launch(ctx context.Context, params LaunchParams, onChunk ChunkHandler) (*TurnOutcome, error) {
	world, err := s.worlds.GetWorld(params.World)
	if err != nil {
		return nil, err
	}

	req := LaunchRequest{
		World:     world,
		Character: params.Character,
		Arc:       params.Arc,
		Age:       params.Age,
		Mode:      params.Mode,
	}
	if _, err := req.validate(); err != nil {
		return nil, err
	}

	if params.SavePreset && s.presets != nil {
		if err := s.presets.SavePreset(models.PresetFromCharacter(params.Character)); err != nil {
			return nil, err
		}
	}

	session := s.register()

	var result *TurnResult
	err = s.locks.TryExecuteWithSessionLock(session.ID, func() error {
		var launchErr error
		result, launchErr = session.Launch(ctx, req, onChunk)
		return launchErr
	})

	if err != nil && session.Status() != StatusActive {
		// 参数校验失败，会话没有真正创建
		s.remove(session.ID)
		return nil, err
	}

	return &TurnOutcome{Session: session.View(), Turn: result}, err
}

// LoadSave 从存档创建新会话
func (s *SessionService) LoadSave(ctx context.Context, name string) (*SessionView, error) {
	state, err := s.saves.LoadSave(ctx, name)
	if err != nil {
		return nil, err
	}

	session := s.register()
	if err := session.Resume(state); err != nil {
		s.remove(session.ID)
		return nil, err
	}

	utils.GetLogger().Info("session resumed from save", map[string]interface{}{
		"session_id": session.ID,
		"save":       name,
	})
	return session.View(), nil
}

// withSession 在会话写锁下执行操作
func (s *SessionService) withSession(id string, fn func(session *GameSession) error) error {
	session, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.locks.TryExecuteWithSessionLock(id, func() error {
		return fn(session)
	})
}

// readSession 在会话读锁下执行操作
func (s *SessionService) readSession(id string, fn func(session *GameSession) error) error {
	session, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.locks.ExecuteWithSessionReadLock(id, func() error {
		return fn(session)
	})
}

func (s *SessionService) runTurn(id string, op func(session *GameSession) (*TurnResult, error)) (*TurnOutcome, error) {
	var outcome *TurnOutcome
	err := s.withSession(id, func(session *GameSession) error {
		result, err := op(session)
		if err != nil {
			return err
		}
		outcome = &TurnOutcome{Session: session.View(), Turn: result}
		return nil
	})
	return outcome, err
}

// GetSession 返回会话快照
func (s *SessionService) GetSession(id string) (*SessionView, error) {
	var view *SessionView
	err := s.readSession(id, func(session *GameSession) error {
		view = session.View()
		return nil
	})
	return view, err
}

// SubmitAction 提交玩家行动
func (s *SessionService) SubmitAction(ctx context.Context, id, text string, onChunk ChunkHandler) (*TurnOutcome, error) {
	return s.runTurn(id, func(session *GameSession) (*TurnResult, error) {
		return session.SubmitAction(ctx, text, onChunk)
	})
}

// Reroll 重新生成最后一条回复
func (s *SessionService) Reroll(ctx context.Context, id string, onChunk ChunkHandler) (*TurnOutcome, error) {
	return s.runTurn(id, func(session *GameSession) (*TurnResult, error) {
		return session.Reroll(ctx, onChunk)
	})
}

// Continue 让模型继续叙述
func (s *SessionService) Continue(ctx context.Context, id string, onChunk ChunkHandler) (*TurnOutcome, error) {
	return s.runTurn(id, func(session *GameSession) (*TurnResult, error) {
		return session.Continue(ctx, onChunk)
	})
}

// EditTurn 修改一条历史消息
func (s *SessionService) EditTurn(id string, index int, content string) (*SessionView, error) {
	var view *SessionView
	err := s.withSession(id, func(session *GameSession) error {
		if err := session.EditTurn(index, content); err != nil {
			return err
		}
		view = session.View()
		return nil
	})
	return view, err
}

// Save 手动存档，返回槽位名
func (s *SessionService) Save(ctx context.Context, id string) (string, error) {
	var slot string
	err := s.withSession(id, func(session *GameSession) error {
		var saveErr error
		slot, saveErr = session.Save(ctx)
		return saveErr
	})
	return slot, err
}

// Timeline 返回剧情阶段追踪
func (s *SessionService) Timeline(id string) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	err := s.readSession(id, func(session *GameSession) error {
		var timelineErr error
		entries, timelineErr = session.Timeline()
		return timelineErr
	})
	return entries, err
}

// Director 返回导演推理日志
func (s *SessionService) Director(id string) (string, error) {
	var director string
	err := s.readSession(id, func(session *GameSession) error {
		var directorErr error
		director, directorErr = session.DirectorLog()
		return directorErr
	})
	return director, err
}

// Exit 结束会话并从注册表中移除
func (s *SessionService) Exit(id string) error {
	err := s.withSession(id, func(session *GameSession) error {
		session.Exit()
		return nil
	})
	if err != nil {
		return err
	}
	s.remove(id)
	return nil
}

func (s *SessionService) remove(id string) {
	s.mu.Lock()
	_, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if exists {
		s.metrics.DecGauge(utils.MetricSessionsActive)
		s.locks.Forget(id)
	}
}
