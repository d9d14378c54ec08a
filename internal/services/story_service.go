// internal/services/story_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/prompts"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDuration 单次生成的最长执行时间
const DefaultMaxDuration = 30 * time.Second

// GenerationState 单次生成请求的状态
type GenerationState string

const (
	StateReceived      GenerationState = "RECEIVED"
	StateForwarding    GenerationState = "FORWARDING"
	StateStreaming     GenerationState = "STREAMING"
	StateCompleted     GenerationState = "COMPLETED"
	StateTimedOut      GenerationState = "TIMED_OUT"
	StateProviderError GenerationState = "PROVIDER_ERROR"
	StateCanceled      GenerationState = "CANCELED"
)

// Terminal 是否为终止状态
func (s GenerationState) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateProviderError, StateCanceled:
		return true
	}
	return false
}

// TransitionHook 状态变化回调，from 为空表示新建
type TransitionHook func(generationID string, from, to GenerationState)

// Sink 接收转发的输出。Begin 在第一段输出（或空输出的完成）之前调用一次
type Sink interface {
	Begin(messageID string) error
	Text(chunk string) error
}

// SinkFunc 只关心文本的 Sink
type SinkFunc func(chunk string)

func (f SinkFunc) Begin(string) error { return nil }

func (f SinkFunc) Text(chunk string) error {
	if f != nil {
		f(chunk)
	}
	return nil
}

// StoryService 把消息历史加上系统指令转发给模型，并按顺序转发流式输出
type StoryService struct {
	llm         *LLMService
	maxDuration time.Duration
	metrics     *utils.MetricsCollector
	logger      *utils.Logger
	onChange    TransitionHook
}

// StoryServiceOption 可选配置
type StoryServiceOption func(*StoryService)

// WithMaxDuration 设置最长执行时间
func WithMaxDuration(d time.Duration) StoryServiceOption {
	return func(s *StoryService) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithMetrics 设置指标采集器
func WithMetrics(m *utils.MetricsCollector) StoryServiceOption {
	return func(s *StoryService) { s.metrics = m }
}

// WithLogger 设置日志
func WithLogger(l *utils.Logger) StoryServiceOption {
	return func(s *StoryService) { s.logger = l }
}

// WithTransitionHook 观察状态变化
func WithTransitionHook(h TransitionHook) StoryServiceOption {
	return func(s *StoryService) { s.onChange = h }
}

// NewStoryService 创建故事服务
func NewStoryService(llmService *LLMService, opts ...StoryServiceOption) *StoryService {
	s := &StoryService{
		llm:         llmService,
		maxDuration: DefaultMaxDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = utils.GetMetricsCollector()
	}
	if s.logger == nil {
		s.logger = utils.GetLogger()
	}
	return s
}

// MaxDuration 当前的最长执行时间
func (s *StoryService) MaxDuration() time.Duration {
	return s.maxDuration
}

// ValidateMessages 校验请求消息。nil 表示缺少 messages 字段，空列表合法
func ValidateMessages(messages []models.Message) error {
	if messages == nil {
		return apperrors.NewValidationError("messages 字段缺失", nil)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return apperrors.NewValidationError("无效的消息角色", fmt.Errorf("messages[%d].role=%q", i, m.Role))
		}
	}
	return nil
}

// Generation 一次生成请求。Start 成功后必须调用 Relay 以释放资源
type Generation struct {
	ID string

	svc       *StoryService
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	stream    <-chan llm.StreamResponse
	provider  string
	model     string
	startedAt time.Time
	streaming bool

	mu      sync.Mutex
	state   GenerationState
	relayed bool
}

// RelayResult Relay 的结果
type RelayResult struct {
	State   GenerationState
	Finish  models.Finish
	Err     error
	Started bool // Sink.Begin 是否已调用
	Chunks  int
}

// Start 校验消息、加上系统指令并向模型发起流式请求。
// 返回的 Generation 处于 STREAMING 状态。
func (s *StoryService) Start(ctx context.Context, messages []models.Message) (*Generation, error) {
	g := &Generation{
		ID:        "msg-" + uuid.NewString(),
		svc:       s,
		provider:  s.llm.GetProviderName(),
		model:     s.llm.GetDefaultModel(),
		startedAt: time.Now(),
	}
	g.setState(StateReceived)

	if err := ValidateMessages(messages); err != nil {
		s.metrics.RecordError(string(apperrors.ErrorTypeValidation), "story")
		s.logger.Warn("拒绝无效的生成请求", map[string]interface{}{
			"generation_id": g.ID,
			"error":         err,
		})
		return nil, err
	}

	g.ctx, g.cancel = context.WithTimeout(ctx, s.maxDuration)
	g.ctx, g.span = utils.StartSpan(g.ctx, "story.generate", trace.WithAttributes(
		attribute.String("generation.id", g.ID),
		attribute.String("llm.provider", g.provider),
		attribute.String("llm.model", g.model),
		attribute.Int("story.messages", len(messages)),
	))

	g.setState(StateForwarding)
	stream, err := s.llm.StreamChat(g.ctx, prompts.WithSystemInstruction(messages))
	if err != nil {
		appErr := classify(g.ctx, err)
		g.end(stateFor(appErr), appErr, RelayResult{})
		return nil, appErr
	}

	g.stream = stream
	g.streaming = true
	s.metrics.StreamStarted()
	g.setState(StateStreaming)
	return g, nil
}

// StreamText 进程内的完整生成，onText 按顺序收到每段文本
func (s *StoryService) StreamText(ctx context.Context, messages []models.Message, onText func(string)) (models.Finish, error) {
	g, err := s.Start(ctx, messages)
	if err != nil {
		return models.Finish{}, err
	}
	res := g.Relay(SinkFunc(onText))
	return res.Finish, res.Err
}

// State 当前状态
func (g *Generation) State() GenerationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Deadline 本次生成的截止时间
func (g *Generation) Deadline() (time.Time, bool) {
	return g.ctx.Deadline()
}

// Relay 把上游输出按顺序转发给 sink，直到完成、超时、取消或上游失败。
// 进入终止状态后不再转发任何内容。
func (g *Generation) Relay(sink Sink) RelayResult {
	g.mu.Lock()
	if g.relayed {
		g.mu.Unlock()
		return RelayResult{State: g.State(), Err: apperrors.NewConflictError("生成已转发", nil)}
	}
	g.relayed = true
	g.mu.Unlock()

	var res RelayResult
	// sink 写入失败时优先归因于时限或取消
	sinkFailed := func(err error) RelayResult {
		if ctxErr := apperrors.FromContext(g.ctx); ctxErr != nil {
			return g.fail(res, ctxErr)
		}
		return g.fail(res, apperrors.NewCanceledError("客户端写入失败", err))
	}
	begin := func() error {
		if res.Started {
			return nil
		}
		if err := sink.Begin(g.ID); err != nil {
			return err
		}
		res.Started = true
		return nil
	}

	for {
		select {
		case <-g.ctx.Done():
			return g.fail(res, apperrors.FromContext(g.ctx))

		case resp, ok := <-g.stream:
			if ctxErr := apperrors.FromContext(g.ctx); ctxErr != nil {
				return g.fail(res, ctxErr)
			}
			if !ok {
				return g.fail(res, apperrors.NewProviderError("上游流意外结束", nil))
			}
			if resp.Err != nil {
				return g.fail(res, apperrors.NewProviderError("上游生成失败", resp.Err))
			}

			if resp.Text != "" {
				if err := begin(); err != nil {
					return sinkFailed(err)
				}
				if err := sink.Text(resp.Text); err != nil {
					return sinkFailed(err)
				}
				res.Chunks++
				g.svc.metrics.RecordChunk()
			}

			if resp.Done {
				if err := begin(); err != nil {
					return sinkFailed(err)
				}
				res.Finish = models.Finish{Reason: resp.FinishReason}
				if res.Finish.Reason == "" {
					res.Finish.Reason = models.FinishStop
				}
				if resp.Usage != nil {
					res.Finish.Usage = *resp.Usage
				}
				res.State = StateCompleted
				g.end(StateCompleted, nil, res)
				return res
			}
		}
	}
}

func (g *Generation) fail(res RelayResult, err *apperrors.AppError) RelayResult {
	res.State = stateFor(err)
	res.Err = err
	g.end(res.State, err, res)
	return res
}

// end 进入终止状态并释放上下文
func (g *Generation) end(state GenerationState, err error, res RelayResult) {
	g.setState(state)
	if g.cancel != nil {
		g.cancel()
	}

	duration := time.Since(g.startedAt)
	svc := g.svc
	if g.streaming {
		svc.metrics.StreamFinished()
	}
	svc.metrics.RecordGeneration(g.provider, g.model, string(state), duration)
	svc.metrics.RecordTokens(g.provider, g.model, res.Finish.Usage.PromptTokens, res.Finish.Usage.CompletionTokens)

	fields := map[string]interface{}{
		"generation_id": g.ID,
		"state":         string(state),
		"provider":      g.provider,
		"model":         g.model,
		"chunks":        res.Chunks,
		"duration_ms":   duration.Milliseconds(),
	}
	if g.span != nil {
		g.span.SetAttributes(
			attribute.String("generation.state", string(state)),
			attribute.Int("story.chunks", res.Chunks),
		)
	}

	if err != nil {
		fields["error"] = err
		svc.metrics.RecordError(string(apperrors.TypeOf(err)), "story")
		svc.logger.Warn("故事生成未完成", fields)
		if g.span != nil {
			g.span.RecordError(err)
			g.span.SetStatus(codes.Error, err.Error())
		}
	} else {
		fields["finish_reason"] = string(res.Finish.Reason)
		svc.logger.Info("故事生成完成", fields)
	}

	if g.span != nil {
		g.span.End()
	}
}

func (g *Generation) setState(to GenerationState) {
	g.mu.Lock()
	from := g.state
	g.state = to
	g.mu.Unlock()

	if g.svc.onChange != nil {
		g.svc.onChange(g.ID, from, to)
	}
}

// classify 把上游调用错误归类；ctx 已结束时优先报告超时或取消
func classify(ctx context.Context, err error) *apperrors.AppError {
	if ctxErr := apperrors.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrLLMNotReady) {
		return apperrors.NewProviderError("模型服务未就绪", err)
	}
	return apperrors.NewProviderError("调用模型失败", err)
}

func stateFor(err *apperrors.AppError) GenerationState {
	switch err.Type {
	case apperrors.ErrorTypeTimeout:
		return StateTimedOut
	case apperrors.ErrorTypeCanceled:
		return StateCanceled
	default:
		return StateProviderError
	}
}
