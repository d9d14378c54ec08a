// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// LLMService 持有当前的模型提供者及其就绪状态
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	isReady            bool
	readyState         string
	activeDefaultModel string
}

// LLMStatus 对外暴露的提供者状态，不包含凭据
type LLMStatus struct {
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Ready     bool     `json:"ready"`
	State     string   `json:"state"`
	Available []string `json:"available_providers"`
}

// NewLLMService 按名称和配置创建服务。初始化失败时返回未就绪的服务而不是错误
func NewLLMService(providerName string, config map[string]string) *LLMService {
	service := &LLMService{
		providerName: providerName,
		readyState:   "Uninitialized",
	}
	if err := service.UpdateProvider(providerName, config); err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
	}
	return service
}

// NewLLMServiceWithProvider 直接使用已初始化的提供者
func NewLLMServiceWithProvider(provider llm.Provider) *LLMService {
	return &LLMService{
		provider:           provider,
		providerName:       provider.GetName(),
		isReady:            true,
		readyState:         "Ready",
		activeDefaultModel: provider.DefaultModel(),
	}
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, config map[string]string) error {
	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = provider.DefaultModel()
	s.isReady = true
	s.readyState = "Ready"
	return nil
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 当前默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.activeDefaultModel
}

// Status 汇总状态
func (s *LLMService) Status() LLMStatus {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return LLMStatus{
		Provider:  s.providerName,
		Model:     s.activeDefaultModel,
		Ready:     s.provider != nil && s.isReady,
		State:     s.readyState,
		Available: llm.ListProviders(),
	}
}

// StreamChat 以默认模型发起流式对话
func (s *LLMService) StreamChat(ctx context.Context, messages []models.Message) (<-chan llm.StreamResponse, error) {
	s.providerMutex.RLock()
	provider, ready, model := s.provider, s.isReady, s.activeDefaultModel
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, ErrLLMNotReady
	}
	return provider.StreamChat(ctx, llm.ChatRequest{Model: model, Messages: messages})
}
