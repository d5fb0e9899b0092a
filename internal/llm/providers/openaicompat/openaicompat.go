// internal/llm/providers/openaicompat/openaicompat.go
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Corphon/SekaiHub/internal/llm"
	openai "github.com/sashabaranov/go-openai"
)

// 兼容 OpenAI 协议的服务端点
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

func init() {
	llm.Register("groq", func() llm.Provider {
		return &Provider{
			name:         "Groq",
			baseURL:      GroqBaseURL,
			defaultModel: "llama-3.3-70b-versatile",
			recommendedModels: []string{
				"llama-3.3-70b-versatile",
				"llama-3.1-8b-instant",
				"gemma2-9b-it",
			},
		}
	})
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			name:         "OpenAI",
			baseURL:      OpenAIBaseURL,
			defaultModel: "gpt-4o-mini",
			recommendedModels: []string{
				"gpt-4o-mini",
				"gpt-4o",
			},
		}
	})
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{
			name:         "OpenRouter",
			baseURL:      OpenRouterBaseURL,
			defaultModel: "meta-llama/llama-3.3-70b-instruct:free",
			recommendedModels: []string{
				"meta-llama/llama-3.3-70b-instruct:free",
				"qwen/qwen3-235b-a22b:free",
				"nousresearch/hermes-3-llama-3.1-405b:free",
			},
		}
	})
}

// Provider 基于 go-openai 客户端的通用提供者
type Provider struct {
	name              string
	baseURL           string
	defaultModel      string
	recommendedModels []string
	client            *openai.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.name)
	}

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = baseURL
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimRight(p.baseURL, "/")
	p.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) buildRequest(req llm.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, errors.New("提供者尚未初始化")
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s API错误: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s未返回任何结果", p.name)
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    resp.Model,
		ProviderName: p.name,
	}, nil
}

// StreamCompletion 实现流式响应，通道在流结束或出错后关闭
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	if p.client == nil {
		return nil, errors.New("提供者尚未初始化")
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s API错误: %w", p.name, err)
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer stream.Close()
		defer close(respChan)

		send := func(chunk llm.StreamResponse) bool {
			select {
			case respChan <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(llm.StreamResponse{Done: true, FinishReason: "stop"})
				return
			}
			if err != nil {
				send(llm.StreamResponse{Done: true, FinishReason: "error", Err: err})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if !send(llm.StreamResponse{
				Text:         choice.Delta.Content,
				FinishReason: string(choice.FinishReason),
				ModelName:    chunk.Model,
			}) {
				return
			}
		}
	}()

	return respChan, nil
}
