// internal/services/preset_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/storage"
)

const recordFileExt = ".json"

// PresetService 管理角色预设
type PresetService struct {
	files *storage.FileStorage
}

// NewPresetService 创建预设服务
func NewPresetService(dir string) (*PresetService, error) {
	files, err := storage.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return &PresetService{files: files}, nil
}

// Close 释放底层存储
func (s *PresetService) Close() error {
	return s.files.Close()
}

// validateRecordName 记录名直接用作文件名，不允许路径成分
func validateRecordName(name string) error {
	if strings.TrimSpace(name) == "" {
		return appErrors.NewValidationError("名称不能为空", nil)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return appErrors.NewValidationError(fmt.Sprintf("名称包含非法字符: %s", name), nil)
	}
	return nil
}

// ListPresets 列出所有预设名称
func (s *PresetService) ListPresets() ([]string, error) {
	files, err := s.files.ListFiles("", "*"+recordFileExt)
	if err != nil {
		return nil, appErrors.NewRecordLoadError("无法列出预设目录", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, strings.TrimSuffix(file.Name, recordFileExt))
	}
	return names, nil
}

// LoadPreset 读取预设
func (s *PresetService) LoadPreset(name string) (*models.Preset, error) {
	if err := validateRecordName(name); err != nil {
		return nil, err
	}

	data, err := s.files.LoadTextFile("", name+recordFileExt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.NewNotFoundError(fmt.Sprintf("预设不存在: %s", name), err)
		}
		return nil, appErrors.NewRecordLoadError(name, err)
	}

	var preset models.Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, appErrors.NewRecordLoadError(name, err)
	}
	if preset.Name == "" {
		preset.Name = name
	}
	return &preset, nil
}

// SavePreset 保存预设，同名预设直接覆盖
func (s *PresetService) SavePreset(preset models.Preset) error {
	if err := validateRecordName(preset.Name); err != nil {
		return err
	}
	if err := s.files.SaveJSONFile("", preset.Name+recordFileExt, preset); err != nil {
		return appErrors.NewProcessingError("保存预设失败", err)
	}
	return nil
}
