// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/StoryTeller/internal/app"
	"github.com/Corphon/StoryTeller/internal/config"
	"github.com/Corphon/StoryTeller/internal/utils"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 初始化日志
	if err := utils.InitLogger(utils.LoggerConfig{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogFormat,
	}); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	logger := utils.GetLogger()
	logger.Info("🚀 启动 StoryTeller 服务器", map[string]interface{}{
		"port":         cfg.Port,
		"provider":     cfg.LLMProvider,
		"model":        cfg.LLMModel,
		"max_duration": cfg.MaxDuration.String(),
	})
	if cfg.MissingCredential() {
		logger.Warn("未配置模型凭据，请设置 LLM_API_KEY", map[string]interface{}{
			"provider": cfg.LLMProvider,
		})
	}

	// 3. 等待中断信号以进行优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 组装并运行
	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("初始化应用失败", map[string]interface{}{"error": err})
		_ = logger.Sync()
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		os.Exit(1)
	}
}
