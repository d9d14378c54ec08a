// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// studioMessage 客户端发来的操作
type studioMessage struct {
	Type  string                 `json:"type"`
	Draft *models.CharacterDraft `json:"draft,omitempty"`
	ID    int64                  `json:"id,omitempty"`
	Value string                 `json:"value,omitempty"`
}

// StudioWebSocket 处理页面会话 WebSocket 连接，连接存续期间独占一份表单状态
func (h *Handler) StudioWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("WebSocket 升级失败", map[string]interface{}{"error": err})
		return
	}

	session := h.Sessions.Open(&WebSocketConnWrapper{conn})
	defer h.Sessions.Close(session)

	go h.handleWebSocketWrites(session)
	session.sendSnapshot(session.studio.Snapshot())
	h.handleWebSocketReads(session)
}

// handleWebSocketReads 读取并处理客户端消息，连接断开时返回
func (h *Handler) handleWebSocketReads(session *Session) {
	session.conn.SetReadDeadline(time.Now().Add(h.Sessions.pingTimeout))
	session.conn.SetPongHandler(func(string) error {
		session.UpdatePing()
		session.conn.SetReadDeadline(time.Now().Add(h.Sessions.pingTimeout))
		return nil
	})

	for !session.IsClosed() {
		session.conn.SetReadDeadline(time.Now().Add(h.Sessions.pingTimeout))
		_, messageBytes, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Warn("WebSocket 读取错误", map[string]interface{}{
					"session_id": session.id,
					"error":      err,
				})
			}
			return
		}

		session.UpdatePing()

		var message studioMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			session.SendError("消息格式无效")
			continue
		}
		h.handleMessage(session, message)
	}
}

// handleWebSocketWrites 把发送队列写入连接并定期发送 ping
func (h *Handler) handleWebSocketWrites(session *Session) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		session.Close()
	}()

	for {
		select {
		case message := <-session.send:
			session.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := session.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				utils.GetLogger().Warn("WebSocket 写入失败", map[string]interface{}{
					"session_id": session.id,
					"error":      err,
				})
				return
			}
		case <-session.snapSig:
			message := session.takeSnapshot()
			if message == nil {
				continue
			}
			session.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := session.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				utils.GetLogger().Warn("WebSocket 写入失败", map[string]interface{}{
					"session_id": session.id,
					"error":      err,
				})
				return
			}
		case <-ticker.C:
			session.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := session.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-session.done:
			session.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			session.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleMessage 分发客户端操作。状态变化通过快照推送，不单独回复
func (h *Handler) handleMessage(session *Session, message studioMessage) {
	st := session.studio

	switch message.Type {
	case "update_draft":
		if message.Draft == nil {
			session.SendError("缺少草稿内容")
			return
		}
		st.UpdateDraft(*message.Draft)

	case "add_character":
		draft := st.Snapshot().Draft
		if message.Draft != nil {
			draft = *message.Draft
		}
		st.AddCharacter(draft)

	case "submit_draft":
		st.SubmitDraft()

	case "delete_character":
		st.DeleteCharacter(message.ID)

	case "start_editing":
		if !st.StartEditing(message.ID) {
			session.SendError("角色不存在")
		}

	case "save_edit":
		st.SaveEdit()

	case "cancel_edit":
		st.CancelEdit()

	case "select_genre":
		if err := st.SelectGenre(message.Value); err != nil {
			session.SendError(err.Error())
		}

	case "select_tone":
		if err := st.SelectTone(message.Value); err != nil {
			session.SendError(err.Error())
		}

	case "generate":
		go func() {
			// 失败信息随快照的 error 字段送达
			if ok, _ := st.Generate(session.ctx); !ok {
				session.SendError("请先选择类型和基调，或等待当前故事生成完成")
			}
		}()

	case "ping":
		session.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Format(time.RFC3339),
		})

	default:
		session.SendMessage(map[string]interface{}{
			"type":  "error",
			"code":  ErrorUnknownAction,
			"error": "未知的消息类型: " + message.Type,
		})
	}
}
