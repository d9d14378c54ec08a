// internal/llm/providers/google/google.go
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"google.golang.org/genai"
)

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.0-flash",
			},
			defaultModel: "gemini-2.5-flash",
		}
	})
}

// Provider Gemini API 提供者
type Provider struct {
	client       *genai.Client
	defaultModel string
	models       []string
	temperature  *float32
	maxTokens    int32
}

// Initialize 初始化提供者
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return llm.ErrMissingAPIKey
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
	}
	if baseURL := config["base_url"]; baseURL != "" {
		clientConfig.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	p.client = client

	if model := config["model"]; model != "" {
		p.defaultModel = model
	}
	if v := config["temperature"]; v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("无效的 temperature %q: %w", v, err)
		}
		p.temperature = genai.Ptr(float32(t))
	}
	if v := config["max_tokens"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("无效的 max_tokens %q: %w", v, err)
		}
		p.maxTokens = int32(n)
	}
	return nil
}

func (p *Provider) GetName() string { return "google" }

func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) GetSupportedModels() []string { return p.models }

// StreamChat 实现流式对话
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	if p.client == nil {
		return nil, errors.New("google 提供者未初始化")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	system, contents := toContents(req.Messages)
	config := &genai.GenerateContentConfig{
		Temperature:     p.temperature,
		MaxOutputTokens: p.maxTokens,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	respChan := make(chan llm.StreamResponse)
	go func() {
		defer close(respChan)

		send := func(resp llm.StreamResponse) bool {
			select {
			case respChan <- resp:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finishReason := models.FinishUnknown
		usage := &models.Usage{}
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				if ctx.Err() == nil {
					send(llm.StreamResponse{Err: fmt.Errorf("gemini 流读取失败: %w", err), Done: true})
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finishReason = llm.MapFinishReason(string(resp.Candidates[0].FinishReason))
			}
			if text := resp.Text(); text != "" {
				if !send(llm.StreamResponse{Text: text, ModelName: model}) {
					return
				}
			}
		}

		send(llm.StreamResponse{FinishReason: finishReason, Usage: usage, ModelName: model, Done: true})
	}()

	return respChan, nil
}

// openingTurn 历史为空时代替用户发言
const openingTurn = "Begin."

// toContents 拆出 system 消息，其余转换为 Gemini 的 user/model 轮次
func toContents(messages []models.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		// Gemini 拒绝空 contents，只有 system 指令时补一个用户轮次
		contents = append(contents, genai.NewContentFromText(openingTurn, genai.RoleUser))
	}
	return strings.Join(system, "\n\n"), contents
}
