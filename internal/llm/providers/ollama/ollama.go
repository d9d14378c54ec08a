// internal/llm/providers/ollama/ollama.go
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/ollama/ollama/api"
)

const defaultBaseURL = "http://localhost:11434"

var errStopped = errors.New("stream consumer stopped")

func init() {
	llm.Register("ollama", func() llm.Provider {
		return &Provider{
			models: []string{
				"llama3.2",
				"qwen2.5",
				"mistral",
			},
			defaultModel: "llama3.2",
			options:      map[string]interface{}{},
		}
	})
}

// Provider 本地 Ollama 提供者
type Provider struct {
	client       *api.Client
	defaultModel string
	models       []string
	options      map[string]interface{}
}

// Initialize 初始化提供者，Ollama 不需要 API 密钥
func (p *Provider) Initialize(config map[string]string) error {
	baseURL := config["base_url"]
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	// api.NewClient 需要不带 /v1 后缀的地址
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("解析 Ollama 地址 %q 失败: %w", baseURL, err)
	}
	p.client = api.NewClient(parsedURL, &http.Client{})

	if model := config["model"]; model != "" {
		p.defaultModel = model
	}
	if v := config["temperature"]; v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("无效的 temperature %q: %w", v, err)
		}
		p.options["temperature"] = t
	}
	if v := config["max_tokens"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("无效的 max_tokens %q: %w", v, err)
		}
		p.options["num_predict"] = n
	}
	return nil
}

func (p *Provider) GetName() string { return "ollama" }

func (p *Provider) DefaultModel() string { return p.defaultModel }

func (p *Provider) GetSupportedModels() []string { return p.models }

// StreamChat 实现流式对话
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	if p.client == nil {
		return nil, errors.New("ollama 提供者未初始化")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	options := make(map[string]interface{}, len(p.options)+2)
	for k, v := range p.options {
		options[k] = v
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
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

		var final *llm.StreamResponse
		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !send(llm.StreamResponse{Text: resp.Message.Content, ModelName: model}) {
					return errStopped
				}
			}
			if resp.Done {
				final = &llm.StreamResponse{
					FinishReason: llm.MapFinishReason(resp.DoneReason),
					Usage: &models.Usage{
						PromptTokens:     resp.PromptEvalCount,
						CompletionTokens: resp.EvalCount,
					},
					ModelName: model,
					Done:      true,
				}
			}
			return nil
		})

		switch {
		case ctx.Err() != nil || errors.Is(err, errStopped):
			return
		case err != nil:
			send(llm.StreamResponse{Err: fmt.Errorf("ollama 流读取失败: %w", err), Done: true})
		case final == nil:
			send(llm.StreamResponse{Err: errors.New("ollama 流在完成前结束"), Done: true})
		default:
			send(*final)
		}
	}()

	return respChan, nil
}
