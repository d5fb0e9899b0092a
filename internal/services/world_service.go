// internal/services/world_service.go
package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/storage"
	"github.com/Corphon/SekaiHub/internal/utils"
)

const worldFilePattern = "world_*.json"

// WorldSummary 世界列表项
type WorldSummary struct {
	Name     string                 `json:"name"`
	File     string                 `json:"file"`
	Calendar string                 `json:"calendar"`
	Races    []string               `json:"races"`
	Arcs     []models.Arc           `json:"arcs"`
	Preview  models.TimelinePreview `json:"preview"`
}

// WorldService 从世界目录读取世界设定，目录内容可在运行时被编辑
type WorldService struct {
	files *storage.FileStorage
}

// NewWorldService 创建世界服务
func NewWorldService(dir string) (*WorldService, error) {
	files, err := storage.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return &WorldService{files: files}, nil
}

// Close 释放底层存储
func (s *WorldService) Close() error {
	return s.files.Close()
}

// loadAll 读取所有世界文件，格式错误的文件跳过并作为 RecordLoadError 返回
func (s *WorldService) loadAll() (map[string]*models.World, map[string]string, []error) {
	worlds := make(map[string]*models.World)
	sources := make(map[string]string)
	var loadErrors []error

	files, err := s.files.ListFiles("", worldFilePattern)
	if err != nil {
		return worlds, sources, []error{appErrors.NewRecordLoadError("无法列出世界目录", err)}
	}

	for _, file := range files {
		data, err := s.files.LoadTextFile("", file.Name)
		if err != nil {
			loadErrors = append(loadErrors, appErrors.NewRecordLoadError(file.Name, err))
			continue
		}

		var world models.World
		if err := json.Unmarshal(data, &world); err != nil {
			loadErrors = append(loadErrors, appErrors.NewRecordLoadError(file.Name, err))
			continue
		}

		key := strings.TrimSpace(world.WorldName)
		if key == "" {
			key = file.Name
			world.WorldName = key
		}
		worlds[key] = &world
		sources[key] = file.Name
	}

	for _, loadErr := range loadErrors {
		utils.GetLogger().Warn("skipping malformed world record", map[string]interface{}{
			"error": loadErr.Error(),
		})
	}

	return worlds, sources, loadErrors
}

// ListWorlds 列出所有可用世界，按名称排序
func (s *WorldService) ListWorlds() ([]WorldSummary, []error) {
	worlds, sources, loadErrors := s.loadAll()

	summaries := make([]WorldSummary, 0, len(worlds))
	for name, world := range worlds {
		summaries = append(summaries, WorldSummary{
			Name:     name,
			File:     sources[name],
			Calendar: world.Calendar(),
			Races:    world.Races,
			Arcs:     world.SortedArcs(),
			Preview:  world.Preview(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})

	return summaries, loadErrors
}

// GetWorld 按名称获取世界设定
func (s *WorldService) GetWorld(name string) (*models.World, error) {
	worlds, _, _ := s.loadAll()
	world, exists := worlds[name]
	if !exists {
		return nil, appErrors.NewNotFoundError(fmt.Sprintf("世界不存在: %s", name), nil)
	}
	return world, nil
}
