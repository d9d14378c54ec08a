// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			models: []string{
				"gpt-4o-mini",
				"gpt-4o",
				"gpt-4.1-mini",
				"gpt-4.1",
			},
			defaultModel: "gpt-4o-mini",
			countTokens:  tiktokenCount,
		}
	})
}

// TokenCounter 估算文本的 token 数
type TokenCounter func(model, text string) int

// Provider OpenAI 兼容接口的提供者
type Provider struct {
	client       *openaigo.Client
	defaultModel string
	models       []string
	temperature  float32
	maxTokens    int
	countTokens  TokenCounter
}

// Initialize 初始化提供者
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	baseURL := config["base_url"]
	// 自建的兼容服务可以不带密钥
	if apiKey == "" && baseURL == "" {
		return llm.ErrMissingAPIKey
	}

	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{}
	p.client = openaigo.NewClientWithConfig(clientConfig)

	if model := config["model"]; model != "" {
		p.defaultModel = model
	}
	if v := config["temperature"]; v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("无效的 temperature %q: %w", v, err)
		}
		p.temperature = float32(t)
	}
	if v := config["max_tokens"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("无效的 max_tokens %q: %w", v, err)
		}
		p.maxTokens = n
	}
	return nil
}

// SetTokenCounter 替换 token 估算方法
func (p *Provider) SetTokenCounter(counter TokenCounter) {
	p.countTokens = counter
}

func (p *Provider) GetName() string { return "openai" }

func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) GetSupportedModels() []string { return p.models }

// StreamChat 实现流式对话
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	if p.client == nil {
		return nil, errors.New("openai 提供者未初始化")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	request := openaigo.ChatCompletionRequest{
		Model:         model,
		Messages:      toChatMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openaigo.StreamOptions{IncludeUsage: true},
		Temperature:   p.temperature,
		MaxTokens:     p.maxTokens,
	}
	if req.Temperature > 0 {
		request.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai 流式请求失败: %w", err)
	}

	respChan := make(chan llm.StreamResponse)
	go func() {
		defer close(respChan)
		defer stream.Close()

		var (
			text         strings.Builder
			finishReason models.FinishReason
			usage        *models.Usage
		)

		send := func(resp llm.StreamResponse) bool {
			select {
			case respChan <- resp:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					send(llm.StreamResponse{Err: fmt.Errorf("openai 流读取失败: %w", err), Done: true})
				}
				return
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				usage = &models.Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason != "" {
				finishReason = llm.MapFinishReason(string(choice.FinishReason))
			}
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			if !send(llm.StreamResponse{Text: choice.Delta.Content, ModelName: model}) {
				return
			}
		}

		if finishReason == "" {
			finishReason = models.FinishStop
		}
		if usage == nil {
			usage = p.estimateUsage(model, req.Messages, text.String())
		}
		send(llm.StreamResponse{FinishReason: finishReason, Usage: usage, ModelName: model, Done: true})
	}()

	return respChan, nil
}

// estimateUsage 上游未返回用量时用 tiktoken 估算
func (p *Provider) estimateUsage(model string, messages []models.Message, completion string) *models.Usage {
	if p.countTokens == nil {
		return &models.Usage{}
	}
	prompt := 0
	for _, m := range messages {
		prompt += p.countTokens(model, m.Content)
	}
	return &models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: p.countTokens(model, completion),
	}
}

func toChatMessages(messages []models.Message) []openaigo.ChatCompletionMessage {
	out := make([]openaigo.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openaigo.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openaigo.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openaigo.ChatMessageRoleAssistant
		}
		out = append(out, openaigo.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

var (
	encodings   sync.Map // model -> *tiktoken.Tiktoken
	fallbackEnc = "cl100k_base"
)

// tiktokenCount 按模型编码计数，失败返回 0
func tiktokenCount(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := encodingFor(model)
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if cached, ok := encodings.Load(model); ok {
		return cached.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEnc)
		if err != nil {
			return nil, err
		}
	}
	encodings.Store(model, enc)
	return enc, nil
}
