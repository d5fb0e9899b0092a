package services

import (
	"context"
	"errors"
	"sync"

	"github.com/Corphon/SekaiHub/internal/llm"
)

// fakeReply 预设的一次模型响应
type fakeReply struct {
	text string
	err  error

	// streamErr 在流式输出全部片段之后发送
	streamErr error
}

// fakeProvider 按顺序返回预设响应并记录收到的请求
type fakeProvider struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []llm.CompletionRequest
}

func newFakeProvider(replies ...fakeReply) *fakeProvider {
	return &fakeProvider{replies: replies}
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                    { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string       { return []string{"main", "backup"} }

func (p *fakeProvider) next(req llm.CompletionRequest) fakeReply {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return fakeReply{err: errors.New("no scripted reply")}
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply
}

func (p *fakeProvider) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	reply := p.next(req)
	if reply.err != nil {
		return nil, reply.err
	}
	return &llm.CompletionResponse{Text: reply.text, ModelName: req.Model, ProviderName: "fake"}, nil
}

func (p *fakeProvider) StreamCompletion(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	reply := p.next(req)
	if reply.err != nil {
		return nil, reply.err
	}

	ch := make(chan llm.StreamResponse, len(reply.text)+1)
	half := len(reply.text) / 2
	for _, piece := range []string{reply.text[:half], reply.text[half:]} {
		if piece != "" {
			ch <- llm.StreamResponse{Text: piece, ModelName: req.Model}
		}
	}
	if reply.streamErr != nil {
		ch <- llm.StreamResponse{Err: reply.streamErr}
	} else {
		ch <- llm.StreamResponse{Done: true, FinishReason: "stop"}
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

func newTestLLMService(provider llm.Provider) *LLMService {
	return NewLLMServiceWithProvider("fake", provider, LLMOptions{
		Model:         "main",
		FallbackModel: "backup",
		Temperature:   0.8,
	})
}
