// internal/services/fake_provider_test.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/StoryTeller/internal/llm"
)

// fakeProvider 按脚本回放事件的提供者
type fakeProvider struct {
	events   []llm.StreamResponse
	delay    time.Duration // 每个事件之前的等待
	startErr error
	noDone   bool // 不发送 Done，直接关闭通道

	mu       sync.Mutex
	requests []llm.ChatRequest
	released chan struct{}
}

func newFakeProvider(events ...llm.StreamResponse) *fakeProvider {
	return &fakeProvider{events: events, released: make(chan struct{})}
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                    { return "fake" }
func (p *fakeProvider) DefaultModel() string               { return "fake-model" }
func (p *fakeProvider) GetSupportedModels() []string       { return []string{"fake-model"} }

func (p *fakeProvider) calls() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

func (p *fakeProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.startErr != nil {
		return nil, p.startErr
	}

	out := make(chan llm.StreamResponse)
	go func() {
		defer close(p.released)
		defer close(out)
		for _, ev := range p.events {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					return
				}
			}
			if p.noDone && ev.Done {
				return
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

func text(s string) llm.StreamResponse {
	return llm.StreamResponse{Text: s}
}
