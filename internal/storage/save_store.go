// internal/storage/save_store.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SaveInfo 存档槽位概要
type SaveInfo struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveStore 存档槽位的持久化后端，快照以JSON字节保存
type SaveStore interface {
	Put(ctx context.Context, name string, snapshot []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]SaveInfo, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

const saveFileExt = ".json"

// FileSaveStore 每个槽位一个JSON文件
type FileSaveStore struct {
	files *FileStorage
}

// NewFileSaveStore 在 dir 下创建文件存档后端
func NewFileSaveStore(dir string) (*FileSaveStore, error) {
	files, err := NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return &FileSaveStore{files: files}, nil
}

func (s *FileSaveStore) Put(ctx context.Context, name string, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.SaveTextFile("", name+saveFileExt, snapshot)
}

func (s *FileSaveStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.files.LoadTextFile("", name+saveFileExt)
}

func (s *FileSaveStore) List(ctx context.Context) ([]SaveInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := s.files.ListFiles("", "*"+saveFileExt)
	if err != nil {
		return nil, fmt.Errorf("列出存档失败: %w", err)
	}

	saves := make([]SaveInfo, 0, len(files))
	for _, file := range files {
		saves = append(saves, SaveInfo{
			Name:      strings.TrimSuffix(file.Name, saveFileExt),
			UpdatedAt: file.ModTime.UTC(),
		})
	}
	return saves, nil
}

func (s *FileSaveStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.DeleteFile("", name+saveFileExt)
}

func (s *FileSaveStore) Close() error {
	return s.files.Close()
}
