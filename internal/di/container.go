// internal/di/container.go
package di

import (
	"fmt"
	"sync"
)

// 已注册服务的名称
const (
	ServiceLLM      = "llm"
	ServiceWorlds   = "worlds"
	ServicePresets  = "presets"
	ServiceSaves    = "saves"
	ServiceSessions = "sessions"
)

// CoreServices 启动后必须存在的服务，按注册顺序排列
var CoreServices = []string{ServiceLLM, ServiceWorlds, ServicePresets, ServiceSaves, ServiceSessions}

// Container 是一个简单的依赖注入容器
type Container struct {
	services map[string]interface{}
	order    []string
	mutex    sync.RWMutex
}

// 全局容器实例（单例模式）
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建一个新的依赖注入容器
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// GetContainer 获取全局容器实例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 在容器中注册一个服务实例，同名覆盖时保留原有顺序
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = service
}

// Get 从容器中获取一个服务实例
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.services[name]
}

// Resolve 按名称取出服务并断言为 T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T

	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("服务未注册: %s", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("服务 %s 类型不匹配: %T", name, service)
	}
	return typed, nil
}

// Has 检查容器中是否存在指定名称的服务
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// Missing 返回 names 中尚未注册的服务
func (c *Container) Missing(names ...string) []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var missing []string
	for _, name := range names {
		if _, exists := c.services[name]; !exists {
			missing = append(missing, name)
		}
	}
	return missing
}

// CloseAll 按注册的逆序关闭服务，支持 Close() error 和 Close() 两种签名
// 返回的 map 记录关闭失败的服务
func (c *Container) CloseAll() map[string]error {
	c.mutex.RLock()
	order := append([]string(nil), c.order...)
	services := make(map[string]interface{}, len(c.services))
	for name, service := range c.services {
		services[name] = service
	}
	c.mutex.RUnlock()

	failures := make(map[string]error)
	for i := len(order) - 1; i >= 0; i-- {
		switch closer := services[order[i]].(type) {
		case interface{ Close() error }:
			if err := closer.Close(); err != nil {
				failures[order[i]] = err
			}
		case interface{ Close() }:
			closer.Close()
		}
	}
	return failures
}

// Clear 清空容器中的所有服务
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]interface{})
	c.order = nil
}
