// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/services"
	"github.com/Corphon/StoryTeller/internal/stream"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/gin-gonic/gin"
)

// errorPartGrace 生成时限之后仍允许写出错误分片的时间
var errorPartGrace = 2 * time.Second

// Handler 处理API请求
type Handler struct {
	StoryService *services.StoryService // 故事生成
	LLMService   *services.LLMService   // 模型提供者状态
	Sessions     *SessionManager        // 页面会话
	Response     *ResponseHelper        // 响应助手
	startedAt    time.Time
}

// NewHandler 创建处理器
func NewHandler(storyService *services.StoryService, llmService *services.LLMService, sessions *SessionManager) *Handler {
	return &Handler{
		StoryService: storyService,
		LLMService:   llmService,
		Sessions:     sessions,
		Response:     NewResponseHelper(),
		startedAt:    time.Now(),
	}
}

// IndexPage 返回主页面
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Genres": models.Genres,
		"Tones":  models.Tones,
	})
}

// Chat 流式生成故事。
// 第一段输出之前的失败以 JSON 错误返回，之后的失败以错误分片结束数据流。
func (h *Handler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorMessageInvalid, "请求格式无效", err.Error())
		return
	}

	generation, err := h.StoryService.Start(c.Request.Context(), req.Messages)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	logger := utils.GetLogger()
	if deadline, ok := generation.Deadline(); ok {
		// 客户端不读取时写操作也不能越过生成时限，余量留给错误分片
		err := http.NewResponseController(c.Writer).SetWriteDeadline(deadline.Add(errorPartGrace))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.Warn("设置写超时失败", map[string]interface{}{
				"generation_id": generation.ID,
				"error":         err,
			})
		}
	}

	w := stream.NewWriter(c.Writer)
	res := generation.Relay(w)

	if res.Err == nil {
		if err := w.Finish(res.Finish); err != nil {
			logger.Warn("写入结束分片失败", map[string]interface{}{
				"generation_id": generation.ID,
				"error":         err,
			})
		}
		return
	}

	if !w.Started() {
		h.Response.AppError(c, res.Err)
		return
	}
	if apperrors.IsCanceledError(res.Err) {
		// 客户端已断开
		return
	}

	message := res.Err.Error()
	if appErr, ok := res.Err.(*apperrors.AppError); ok {
		message = appErr.Message
	}
	if err := w.Error(sanitizeErrorMessage(message)); err != nil {
		logger.Warn("写入错误分片失败", map[string]interface{}{
			"generation_id": generation.ID,
			"error":         err,
		})
	}
}

// GetOptions 返回可选的故事类型和基调
func (h *Handler) GetOptions(c *gin.Context) {
	h.Response.Success(c, models.StoryOptions{Genres: models.Genres, Tones: models.Tones})
}

// GetLLMStatus 返回模型提供者状态，不包含凭据
func (h *Handler) GetLLMStatus(c *gin.Context) {
	status := h.LLMService.Status()
	if !status.Ready {
		h.Response.ServiceUnavailable(c, "模型服务未就绪", status.State)
		return
	}
	h.Response.Success(c, status)
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"llm_ready":      h.LLMService.IsReady(),
		"sessions":       h.Sessions.Count(),
		"max_duration_s": h.StoryService.MaxDuration().Seconds(),
		"uptime_s":       int(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// NotFound 未注册的路由
func (h *Handler) NotFound(c *gin.Context) {
	h.Response.NotFound(c, c.Request.URL.Path)
}

// GetSessionStatus 返回页面会话状态（调试用）
func (h *Handler) GetSessionStatus(c *gin.Context) {
	h.Response.Success(c, h.Sessions.GetStatus())
}
