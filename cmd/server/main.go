// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Corphon/SekaiHub/internal/app"
	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/di"
)

func main() {
	log.Println("🚀 启动 SekaiHub 服务器...")

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化日志、配置、服务与路由
	if err := app.Initialize(baseConfig); err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 4. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s/api/worlds", baseConfig.Port)
	log.Printf("💾 存档后端: %s，标签清理模式: %s", baseConfig.SaveBackend, baseConfig.ParseMode)

	if err := app.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// 健康检查函数
func performHealthCheck() error {
	if missing := di.GetContainer().Missing(di.CoreServices...); len(missing) > 0 {
		return fmt.Errorf("关键服务未注册: %v", missing)
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		cfg.WorldsDir,
		cfg.PresetsDir,
		cfg.LogDir,
	}
	if cfg.SaveBackend == config.SaveBackendFile {
		dirs = append(dirs, cfg.SavesDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
