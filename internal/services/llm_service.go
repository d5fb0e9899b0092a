// internal/services/llm_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/SekaiHub/internal/config"
	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/llm"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/utils"
)

const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultFallback    = "llama-3.1-8b-instant"
	DefaultTemperature = float32(0.8)
)

// ChunkHandler 接收流式输出的片段
type ChunkHandler func(chunk string)

type retryHookKey struct{}

// WithRetryHook 返回携带 hook 的 ctx
// 流式尝试已转发片段后失败时，Complete 在备用模型开始前调用 hook，之前的片段作废
func WithRetryHook(ctx context.Context, hook func()) context.Context {
	return context.WithValue(ctx, retryHookKey{}, hook)
}

// RetryHookFrom 取出 WithRetryHook 挂载的回调，未挂载时返回 nil
func RetryHookFrom(ctx context.Context) func() {
	hook, _ := ctx.Value(retryHookKey{}).(func())
	return hook
}

// LLMService 提供统一的大语言模型调用接口，失败时换用备用模型重试一次
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	isReady       bool
	readyState    string

	model         string
	fallbackModel string
	temperature   float32
	streaming     bool

	metrics *utils.MetricsCollector
}

// LLMOptions 模型选择参数
type LLMOptions struct {
	Model         string
	FallbackModel string
	Temperature   float32
	Streaming     bool
}

// OptionsFromConfig 从环境配置读取模型参数
func OptionsFromConfig(cfg *config.Config) LLMOptions {
	return LLMOptions{
		Model:         cfg.LLMModel,
		FallbackModel: cfg.FallbackModel,
		Temperature:   cfg.Temperature,
		Streaming:     cfg.Streaming,
	}
}

// NewLLMService 创建LLM服务，提供者初始化失败时返回未就绪的服务而不是错误
func NewLLMService(opts LLMOptions) *LLMService {
	service := newBaseLLMService(opts)

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}

	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API key not configured"
		return service
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service
	}

	service.setProvider(cfg.LLMProvider, provider, cfg.LLMConfig)
	return service
}

// NewLLMServiceWithProvider 使用现成的提供者创建服务
func NewLLMServiceWithProvider(name string, provider llm.Provider, opts LLMOptions) *LLMService {
	service := newBaseLLMService(opts)
	service.setProvider(name, provider, nil)
	return service
}

func newBaseLLMService(opts LLMOptions) *LLMService {
	service := &LLMService{
		readyState:    "Uninitialized",
		model:         opts.Model,
		fallbackModel: opts.FallbackModel,
		temperature:   opts.Temperature,
		streaming:     opts.Streaming,
		metrics:       utils.GetMetricsCollector(),
	}
	if service.model == "" {
		service.model = DefaultModel
	}
	if service.fallbackModel == "" {
		service.fallbackModel = DefaultFallback
	}
	if service.temperature <= 0 {
		service.temperature = DefaultTemperature
	}
	return service
}

func (s *LLMService) setProvider(name string, provider llm.Provider, settings map[string]string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = name
	s.isReady = true
	s.readyState = "Ready"
	if model := settings["default_model"]; model != "" {
		s.model = model
	}
	if fallback := settings["fallback_model"]; fallback != "" {
		s.fallbackModel = fallback
	}
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady, s.readyState
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// Models 返回主模型和备用模型
func (s *LLMService) Models() (string, string) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.model, s.fallbackModel
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, settings map[string]string) error {
	provider, err := llm.GetProvider(providerName, settings)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.setProvider(providerName, provider, settings)
	return nil
}

// ToMessages 将对话记录转换为请求消息
func ToMessages(turns []models.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return messages
}

// Complete 发送对话并返回完整文本
// 先用主模型，失败（含空文本）后用备用模型重试一次，两次都失败返回 ProviderError
// onChunk 非空时走流式接口，片段原样转发
func (s *LLMService) Complete(ctx context.Context, messages []llm.Message, onChunk ChunkHandler) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	state := s.readyState
	candidates := []string{s.model, s.fallbackModel}
	temperature := s.temperature
	stream := s.streaming || onChunk != nil
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, appErrors.NewProviderError(fmt.Sprintf("LLM service not ready: %s", state), nil)
	}

	logger := utils.GetLogger()
	var (
		lastErr error
		emitted int
	)

	forward := onChunk
	if onChunk != nil {
		forward = func(chunk string) {
			emitted++
			onChunk(chunk)
		}
	}

	for attempt, model := range candidates {
		if attempt > 0 {
			s.metrics.IncrementCounter(utils.MetricLLMFallbacks)
			logger.Warn("completion failed, retrying on fallback model", map[string]interface{}{
				"failed_model":   candidates[0],
				"fallback_model": model,
				"error":          lastErr.Error(),
				"discarded":      emitted,
			})
			if hook := RetryHookFrom(ctx); hook != nil && emitted > 0 {
				hook()
			}
		}
		emitted = 0

		req := llm.CompletionRequest{
			Messages:    messages,
			Model:       model,
			Temperature: temperature,
		}

		s.metrics.IncrementCounter(utils.MetricLLMRequests)
		start := time.Now()

		var resp *llm.CompletionResponse
		var err error
		if stream {
			resp, err = s.streamOnce(ctx, provider, req, forward)
		} else {
			resp, err = provider.CompleteText(ctx, req)
		}
		s.metrics.ObserveDuration(utils.MetricLLMLatency, time.Since(start))

		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = llm.ErrEmptyCompletion
		}
		if err == nil {
			if resp.ModelName == "" {
				resp.ModelName = model
			}
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	s.metrics.IncrementCounter(utils.MetricLLMFailures)
	logger.Error("completion failed on all models", map[string]interface{}{
		"provider": s.GetProviderName(),
		"error":    lastErr.Error(),
	})
	return nil, appErrors.NewProviderError("completion failed", lastErr)
}

// streamOnce 读取一次流式输出并拼接完整文本
func (s *LLMService) streamOnce(ctx context.Context, provider llm.Provider, req llm.CompletionRequest, onChunk ChunkHandler) (*llm.CompletionResponse, error) {
	chunks, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	resp := &llm.CompletionResponse{ProviderName: provider.GetName()}

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			builder.WriteString(chunk.Text)
			if onChunk != nil {
				onChunk(chunk.Text)
			}
		}
		if chunk.ModelName != "" {
			resp.ModelName = chunk.ModelName
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp.Text = builder.String()
	return resp, nil
}
