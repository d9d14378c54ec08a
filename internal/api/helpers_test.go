// internal/api/helpers_test.go
package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/services"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// stubProvider 按脚本回放事件
type stubProvider struct {
	events   []llm.StreamResponse
	delay    time.Duration
	startErr error

	mu       sync.Mutex
	calls    int
	requests []llm.ChatRequest
}

func (p *stubProvider) Initialize(map[string]string) error { return nil }
func (p *stubProvider) GetName() string                    { return "stub" }
func (p *stubProvider) DefaultModel() string               { return "stub-model" }
func (p *stubProvider) GetSupportedModels() []string       { return []string{"stub-model"} }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) lastRequest() llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.ChatRequest{}
	}
	return p.requests[len(p.requests)-1]
}

func (p *stubProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	p.mu.Lock()
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}

	out := make(chan llm.StreamResponse)
	go func() {
		defer close(out)
		for _, ev := range p.events {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type testEnv struct {
	router   *gin.Engine
	provider *stubProvider
	llm      *services.LLMService
	sessions *SessionManager
}

func newTestEnv(t *testing.T, p *stubProvider, opts ...services.StoryServiceOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	metrics := utils.NewMetricsCollector(registry)

	var llmService *services.LLMService
	if p != nil {
		llmService = services.NewLLMServiceWithProvider(p)
	} else {
		llmService = services.NewLLMService("not-registered", nil)
	}
	storyService := services.NewStoryService(llmService, append([]services.StoryServiceOption{services.WithMetrics(metrics)}, opts...)...)
	sessions := NewSessionManager(storyService, metrics)

	router, err := SetupRouter(RouterConfig{
		StoryService:   storyService,
		LLMService:     llmService,
		Sessions:       sessions,
		Metrics:        metrics,
		Gatherer:       registry,
		MetricsEnabled: true,
		ServiceName:    "storyteller-test",
	})
	require.NoError(t, err)

	t.Cleanup(sessions.Shutdown)
	return &testEnv{router: router, provider: p, llm: llmService, sessions: sessions}
}
