// internal/api/router.go
package api

import (
	"html/template"

	"github.com/Corphon/StoryTeller/internal/services"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/Corphon/StoryTeller/web"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	StoryService   *services.StoryService
	LLMService     *services.LLMService
	Sessions       *SessionManager
	Metrics        *utils.MetricsCollector
	Gatherer       prometheus.Gatherer // 为空时使用默认注册表
	AllowedOrigins []string
	MetricsEnabled bool
	TracingEnabled bool
	ServiceName    string
}

// SetupRouter 配置HTTP路由
func SetupRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = utils.GetMetricsCollector()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionManager(cfg.StoryService, cfg.Metrics)
	}

	handler := NewHandler(cfg.StoryService, cfg.LLMService, cfg.Sessions)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	if cfg.TracingEnabled {
		r.Use(TraceMiddleware(cfg.ServiceName))
	}
	r.Use(LoggingMiddleware())
	if cfg.MetricsEnabled {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	// HTML模板
	tmpl, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r.SetHTMLTemplate(tmpl)

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/ws/studio", handler.StudioWebSocket)

	r.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.POST("/chat", handler.Chat)
		api.GET("/options", handler.GetOptions)
		api.GET("/llm/status", handler.GetLLMStatus)
		api.GET("/ws/status", handler.GetSessionStatus)
	}
	r.NoRoute(handler.NotFound)

	return r, nil
}
