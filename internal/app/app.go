// internal/app/app.go
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Corphon/StoryTeller/internal/api"
	"github.com/Corphon/StoryTeller/internal/config"
	"github.com/Corphon/StoryTeller/internal/services"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	// 注册模型提供者
	_ "github.com/Corphon/StoryTeller/internal/llm/providers/google"
	_ "github.com/Corphon/StoryTeller/internal/llm/providers/ollama"
	_ "github.com/Corphon/StoryTeller/internal/llm/providers/openai"
)

const (
	serviceName     = "storyteller"
	shutdownTimeout = 30 * time.Second
)

// Server 可替换的 HTTP 服务器
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序结构
type App struct {
	config   *config.Config
	router   http.Handler
	server   Server
	llm      *services.LLMService
	story    *services.StoryService
	sessions *api.SessionManager

	shutdownTracing func(context.Context) error
}

// New 按配置组装全部服务与路由
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := utils.GetLogger()

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := utils.InitTracing(ctx, utils.TracingConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.TracingEndpoint,
		SampleRate:  cfg.TracingSampleRate,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		return nil, err
	}

	llmService := services.NewLLMService(cfg.LLMProvider, cfg.LLMConfig())
	if !llmService.IsReady() {
		// 未就绪时仍然启动，/api/chat 返回 502，/api/llm/status 说明原因
		logger.Warn("模型服务未就绪", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"state":    llmService.GetReadyState(),
		})
	} else {
		logger.Info("模型服务已就绪", map[string]interface{}{
			"provider": llmService.GetProviderName(),
			"model":    llmService.GetDefaultModel(),
		})
	}

	metrics := utils.GetMetricsCollector()
	storyService := services.NewStoryService(llmService,
		services.WithMaxDuration(cfg.MaxDuration),
		services.WithMetrics(metrics),
		services.WithLogger(logger),
	)
	sessions := api.NewSessionManager(storyService, metrics)

	router, err := api.SetupRouter(api.RouterConfig{
		StoryService:   storyService,
		LLMService:     llmService,
		Sessions:       sessions,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
		TracingEnabled: cfg.TracingEnabled,
		ServiceName:    serviceName,
	})
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	return &App{
		config:   cfg,
		router:   router,
		server:   &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		llm:      llmService,
		story:    storyService,
		sessions: sessions,

		shutdownTracing: shutdownTracing,
	}, nil
}

// Run 启动服务器，ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	logger := utils.GetLogger()
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("服务器启动", map[string]interface{}{"port": a.config.Port})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.sessions.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("正在关闭服务器...", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 先关闭 WebSocket 会话，Shutdown 不等待已劫持的连接
		a.sessions.Shutdown()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		logger.Error("服务器异常退出", map[string]interface{}{"error": err})
		return err
	}
	logger.Info("服务器已关闭", nil)
	return nil
}

// cleanup 释放追踪导出器并刷新日志
func (a *App) cleanup() {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			utils.GetLogger().Warn("关闭追踪失败", map[string]interface{}{"error": err})
		}
	}
	_ = utils.GetLogger().Sync()
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// Router 应用路由
func (a *App) Router() http.Handler {
	return a.router
}

// LLMService 模型服务
func (a *App) LLMService() *services.LLMService {
	return a.llm
}

// StoryService 故事服务，可作为进程内生成端口
func (a *App) StoryService() *services.StoryService {
	return a.story
}
