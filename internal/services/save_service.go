// internal/services/save_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/storage"
	"github.com/Corphon/SekaiHub/internal/utils"
)

const autosavePrefix = "autosave_"

// SaveService 存档读写，实际存储由 SaveStore 决定
type SaveService struct {
	store   storage.SaveStore
	metrics *utils.MetricsCollector
}

// NewSaveService 创建存档服务
func NewSaveService(store storage.SaveStore) *SaveService {
	return &SaveService{
		store:   store,
		metrics: utils.GetMetricsCollector(),
	}
}

// Close 关闭存储后端
func (s *SaveService) Close() error {
	return s.store.Close()
}

// AutosaveSlot 角色对应的自动存档槽位，只保留字母和数字
func AutosaveSlot(characterName string) string {
	var b strings.Builder
	for _, r := range characterName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return autosavePrefix + b.String()
}

// Autosave 写入角色的自动存档槽位
func (s *SaveService) Autosave(ctx context.Context, state *models.SessionState) (string, error) {
	slot := AutosaveSlot(state.Character.Name)
	return slot, s.Save(ctx, slot, state)
}

// Save 将会话快照写入指定槽位
func (s *SaveService) Save(ctx context.Context, name string, state *models.SessionState) error {
	if err := validateRecordName(name); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return appErrors.NewProcessingError("序列化存档失败", err)
	}
	if err := s.store.Put(ctx, name, data); err != nil {
		return appErrors.NewProcessingError(fmt.Sprintf("写入存档失败: %s", name), err)
	}

	s.metrics.IncrementCounter(utils.MetricSavesWritten)
	return nil
}

// ListSaves 列出所有存档槽位
func (s *SaveService) ListSaves(ctx context.Context) ([]storage.SaveInfo, error) {
	saves, err := s.store.List(ctx)
	if err != nil {
		return nil, appErrors.NewRecordLoadError("无法列出存档", err)
	}
	return saves, nil
}

// LoadSave 读取存档快照
func (s *SaveService) LoadSave(ctx context.Context, name string) (*models.SessionState, error) {
	if err := validateRecordName(name); err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.NewNotFoundError(fmt.Sprintf("存档不存在: %s", name), err)
		}
		return nil, appErrors.NewRecordLoadError(name, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, appErrors.NewRecordLoadError(name, err)
	}
	if state.World == nil || len(state.Transcript) == 0 {
		return nil, appErrors.NewRecordLoadError(name, errors.New("存档缺少世界设定或对话记录"))
	}

	state.Normalize()
	return &state, nil
}
