package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ParseModeStrip, cfg.ParseMode)
	assert.Equal(t, SaveBackendFile, cfg.SaveBackend)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.FallbackModel)
	assert.InDelta(t, 0.8, cfg.Temperature, 0.0001)
	assert.Equal(t, 15, cfg.HistoryLimit)
	assert.Equal(t, 10, cfg.HistoryKeep)
}

func TestLoadRejectsUnknownParseMode(t *testing.T) {
	t.Setenv("PARSE_MODE", "json")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadHistoryBounds(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "5")
	t.Setenv("HISTORY_KEEP", "10")

	_, err := Load()
	assert.Error(t, err)
}

func TestInitConfigPersistsAndMerges(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Port:          "9000",
		DataDir:       dir,
		LogDir:        filepath.Join(dir, "logs"),
		LLMProvider:   "groq",
		LLMAPIKey:     "env-key",
		LLMModel:      "llama-3.3-70b-versatile",
		FallbackModel: "llama-3.1-8b-instant",
		Temperature:   0.8,
	}

	require.NoError(t, InitConfig(cfg))
	_, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err, "配置文件应该已被创建")

	require.NoError(t, UpdateLLMConfig("openrouter", map[string]string{"default_model": "x"}))

	// 重新初始化时保留文件中的提供者设置，缺失的密钥回落到环境变量
	require.NoError(t, InitConfig(cfg))
	current := GetCurrentConfig()
	assert.Equal(t, "openrouter", current.LLMProvider)
	assert.Equal(t, "env-key", current.LLMConfig["api_key"])
	assert.Equal(t, "9000", current.Port)

	// 返回的是副本
	current.LLMConfig["api_key"] = "mutated"
	assert.Equal(t, "env-key", GetCurrentConfig().LLMConfig["api_key"])
}

func TestInitConfigEncryptsAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Port:          "9000",
		DataDir:       dir,
		LLMProvider:   "groq",
		LLMAPIKey:     "gsk-secret",
		LLMModel:      "main",
		EncryptionKey: "passphrase",
	}

	require.NoError(t, InitConfig(cfg))
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "gsk-secret")
	assert.Contains(t, string(data), "encrypted_api_key")

	// 文件中的密文优先于环境变量
	cfg.LLMAPIKey = "other"
	require.NoError(t, InitConfig(cfg))
	assert.Equal(t, "gsk-secret", GetCurrentConfig().LLMConfig["api_key"])
	assert.Empty(t, GetCurrentConfig().EncryptedAPIKey)

	// 口令错误时回落到环境变量
	cfg.EncryptionKey = "wrong"
	require.NoError(t, InitConfig(cfg))
	assert.Equal(t, "other", GetCurrentConfig().LLMConfig["api_key"])
}
