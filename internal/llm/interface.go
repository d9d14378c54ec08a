// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Corphon/StoryTeller/internal/models"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的AI提供者")
	ErrMissingAPIKey   = errors.New("未配置API密钥")
)

// ChatRequest 标准化的流式对话请求
type ChatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
}

// StreamResponse 流式响应中的一个事件。
// Done 为 true 的事件是最后一个事件；Err 非空时同样是最后一个事件。
type StreamResponse struct {
	Text         string              `json:"text,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
	Usage        *models.Usage       `json:"usage,omitempty"`
	ModelName    string              `json:"model_name,omitempty"`
	Done         bool                `json:"done"`
	Err          error               `json:"-"`
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 未指定模型时使用的模型
	DefaultModel() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 流式对话。ctx 取消后实现必须尽快关闭通道并释放上游连接
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamResponse, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MapFinishReason 把上游的结束原因归一化
func MapFinishReason(reason string) models.FinishReason {
	switch reason {
	case "stop", "STOP", "end_turn":
		return models.FinishStop
	case "length", "MAX_TOKENS", "max_tokens":
		return models.FinishLength
	case "":
		return models.FinishUnknown
	default:
		return models.FinishOther
	}
}
