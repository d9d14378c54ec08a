// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/stream"
)

// Client 访问生成端点的 HTTP 客户端，实现 studio.Generator
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option 客户端可选配置
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New 创建客户端，baseURL 形如 http://localhost:8080
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope 服务端统一响应格式
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	} `json:"error,omitempty"`
}

// StreamText 发送消息历史并按顺序回调每段文本
func (c *Client) StreamText(ctx context.Context, messages []models.Message, onText func(string)) (models.Finish, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	body, err := json.Marshal(models.ChatRequest{Messages: messages})
	if err != nil {
		return models.Finish{}, apperrors.NewValidationError("序列化请求失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return models.Finish{}, apperrors.NewProcessingError("创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := apperrors.FromContext(ctx); ctxErr != nil {
			return models.Finish{}, ctxErr
		}
		return models.Finish{}, apperrors.NewProviderError("请求生成端点失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Finish{}, decodeError(resp)
	}
	if resp.Header.Get(stream.HeaderName) != stream.HeaderVersion {
		return models.Finish{}, apperrors.NewProcessingError("响应不是数据流", fmt.Errorf("missing %s header", stream.HeaderName))
	}

	finish, err := stream.Consume(resp.Body, onText)
	if err != nil {
		if ctxErr := apperrors.FromContext(ctx); ctxErr != nil {
			return finish, ctxErr
		}
		var remote *stream.RemoteError
		switch {
		case errors.As(err, &remote):
			return finish, apperrors.NewProviderError(remote.Message, err)
		case errors.Is(err, stream.ErrTruncated):
			return finish, apperrors.NewProviderError("数据流意外结束", err)
		default:
			return finish, apperrors.NewProcessingError("读取数据流失败", err)
		}
	}
	return finish, nil
}

// Options 获取可选的故事类型和基调
func (c *Client) Options(ctx context.Context) (models.StoryOptions, error) {
	var opts models.StoryOptions

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/options", nil)
	if err != nil {
		return opts, apperrors.NewProcessingError("创建请求失败", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return opts, apperrors.NewProcessingError("请求选项失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return opts, decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return opts, apperrors.NewProcessingError("解析选项失败", err)
	}
	if err := json.Unmarshal(env.Data, &opts); err != nil {
		return opts, apperrors.NewProcessingError("解析选项失败", err)
	}
	return opts, nil
}

// decodeError 把非 200 响应转换为对应类型的 AppError
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	message := http.StatusText(resp.StatusCode)
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		message = env.Error.Message
	}
	cause := fmt.Errorf("HTTP %d", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperrors.NewValidationError(message, cause)
	case http.StatusNotFound:
		return apperrors.NewNotFoundError(message, cause)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return apperrors.NewProviderError(message, cause)
	case http.StatusGatewayTimeout:
		return apperrors.NewTimeoutError(message, cause)
	default:
		return apperrors.NewProcessingError(message, cause)
	}
}
