package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = []llm.Message{{Role: "system", Content: "narrate"}, {Role: "user", Content: "look"}}

func TestCompleteUsesPrimaryModel(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "A quiet street."})
	service := newTestLLMService(provider)

	resp, err := service.Complete(context.Background(), testMessages, nil)
	require.NoError(t, err)
	assert.Equal(t, "A quiet street.", resp.Text)

	requests := provider.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "main", requests[0].Model)
	assert.InDelta(t, 0.8, requests[0].Temperature, 0.0001)
	assert.Equal(t, testMessages, requests[0].Messages)
}

func TestCompleteRetriesOnceOnFallback(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{err: errors.New("429 rate limited")},
		fakeReply{text: "Fallback prose."},
	)
	service := newTestLLMService(provider)

	resp, err := service.Complete(context.Background(), testMessages, nil)
	require.NoError(t, err)
	assert.Equal(t, "Fallback prose.", resp.Text)

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "main", requests[0].Model)
	assert.Equal(t, "backup", requests[1].Model)
}

func TestCompleteTreatsEmptyTextAsFailure(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "   "}, fakeReply{text: "Recovered."})
	service := newTestLLMService(provider)

	resp, err := service.Complete(context.Background(), testMessages, nil)
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", resp.Text)
	assert.Len(t, provider.Requests(), 2)
}

func TestCompleteReturnsProviderErrorAfterSecondFailure(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{err: errors.New("auth")},
		fakeReply{err: errors.New("quota")},
		fakeReply{text: "never requested"},
	)
	service := newTestLLMService(provider)

	_, err := service.Complete(context.Background(), testMessages, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsProviderError(err))
	assert.Len(t, provider.Requests(), 2)
}

func TestCompleteStreamsChunks(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "Rain falls on Tokyo."})
	service := newTestLLMService(provider)

	var chunks []string
	resp, err := service.Complete(context.Background(), testMessages, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, "Rain falls on Tokyo.", resp.Text)
	assert.Equal(t, resp.Text, strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)
}

func TestCompleteStreamFailureResetsBeforeFallback(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "PARTIAL-", streamErr: errors.New("connection reset")},
		fakeReply{text: "final text"},
	)
	service := newTestLLMService(provider)

	var (
		chunks []string
		resets int
	)
	ctx := WithRetryHook(context.Background(), func() {
		resets++
		chunks = nil
	})
	resp, err := service.Complete(ctx, testMessages, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, "final text", resp.Text)
	assert.Equal(t, 1, resets)
	assert.Equal(t, "final text", strings.Join(chunks, ""))

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "backup", requests[1].Model)
}

func TestCompleteEmptyStreamFallsBack(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "  "}, fakeReply{text: "Dawn breaks."})
	service := newTestLLMService(provider)

	var (
		chunks []string
		resets int
	)
	ctx := WithRetryHook(context.Background(), func() {
		resets++
		chunks = nil
	})
	resp, err := service.Complete(ctx, testMessages, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, "Dawn breaks.", resp.Text)
	assert.Equal(t, 1, resets, "空白片段已转发，重试前需要作废")
	assert.Equal(t, "Dawn breaks.", strings.Join(chunks, ""))
}

func TestCompleteRetryHookSkippedWithoutChunks(t *testing.T) {
	provider := newFakeProvider(fakeReply{err: errors.New("rate limited")}, fakeReply{text: "Night."})
	service := newTestLLMService(provider)

	resets := 0
	ctx := WithRetryHook(context.Background(), func() { resets++ })
	resp, err := service.Complete(ctx, testMessages, func(string) {})
	require.NoError(t, err)

	assert.Equal(t, "Night.", resp.Text)
	assert.Zero(t, resets)
}

func TestCompleteWithoutProviderIsNotReady(t *testing.T) {
	service := newBaseLLMService(LLMOptions{})

	_, err := service.Complete(context.Background(), testMessages, nil)
	assert.True(t, appErrors.IsProviderError(err))

	ready, _ := service.GetProviderStatus()
	assert.False(t, ready)

	model, fallback := service.Models()
	assert.Equal(t, DefaultModel, model)
	assert.Equal(t, DefaultFallback, fallback)
}
