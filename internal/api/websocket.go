// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/StoryTeller/internal/studio"
	"github.com/Corphon/StoryTeller/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPingTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeTimeout       = 10 * time.Second
	sendQueueSize      = 256
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketConnWrapper 包装真实的 websocket.Conn 以实现接口
type WebSocketConnWrapper struct {
	*websocket.Conn
}

// Session 一个页面会话：一条 WebSocket 连接加上它独占的表单状态
type Session struct {
	id        string
	conn      WebSocketConnection
	studio    *studio.Studio
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time

	ctx         context.Context // 连接关闭时取消进行中的生成
	cancel      context.CancelFunc
	unsubscribe func()

	// 快照邮箱：只保留最新一份，写协程被唤醒后取走
	snapMu   sync.Mutex
	snapshot []byte
	snapSig  chan struct{}
}

// SessionManager 管理所有页面会话
type SessionManager struct {
	generator   studio.Generator
	metrics     *utils.MetricsCollector
	sessions    map[string]*Session
	mutex       sync.RWMutex
	pingTimeout time.Duration
}

// NewSessionManager 创建会话管理器，generator 为每个会话的故事生成端口
func NewSessionManager(generator studio.Generator, metrics *utils.MetricsCollector) *SessionManager {
	if metrics == nil {
		metrics = utils.GetMetricsCollector()
	}
	return &SessionManager{
		generator:   generator,
		metrics:     metrics,
		sessions:    make(map[string]*Session),
		pingTimeout: defaultPingTimeout,
	}
}

// ========================================
// Session 方法
// ========================================

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// Close 安全关闭会话
func (s *Session) Close() {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.done)
		s.cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (s *Session) IsClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (s *Session) UpdatePing() {
	s.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (s *Session) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, s.lastPing.Load())) > timeout
}

// SendMessage 把消息放入发送队列，队列满时丢弃
func (s *Session) SendMessage(message interface{}) error {
	if s.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case s.send <- msgBytes:
	case <-s.done:
	default:
		utils.GetLogger().Warn("会话消息队列已满，消息被丢弃", map[string]interface{}{
			"session_id": s.id,
		})
	}
	return nil
}

// SendError 发送错误消息
func (s *Session) SendError(errorMsg string) {
	s.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// sendSnapshot 推送表单状态。新快照覆盖尚未写出的旧快照，慢连接也总能收到最终状态
func (s *Session) sendSnapshot(snap studio.Snapshot) {
	if s.IsClosed() {
		return
	}
	msgBytes, err := json.Marshal(map[string]interface{}{
		"type": "snapshot",
		"data": snap,
	})
	if err != nil {
		utils.GetLogger().Warn("快照序列化失败", map[string]interface{}{
			"session_id": s.id,
			"error":      err,
		})
		return
	}

	s.snapMu.Lock()
	s.snapshot = msgBytes
	s.snapMu.Unlock()

	select {
	case s.snapSig <- struct{}{}:
	default:
	}
}

// takeSnapshot 取走待写出的最新快照
func (s *Session) takeSnapshot() []byte {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	msg := s.snapshot
	s.snapshot = nil
	return msg
}

// ========================================
// SessionManager 方法
// ========================================

// Open 为新连接创建会话并注册
func (manager *SessionManager) Open(conn WebSocketConnection) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		studio:    studio.New(manager.generator),
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		snapSig:   make(chan struct{}, 1),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	session.UpdatePing()
	session.unsubscribe = session.studio.Subscribe(session.sendSnapshot)

	manager.mutex.Lock()
	manager.sessions[session.id] = session
	manager.mutex.Unlock()
	manager.metrics.WebSocketConnected()

	utils.GetLogger().Info("页面会话已连接", map[string]interface{}{
		"session_id": session.id,
	})
	return session
}

// Close 注销并关闭会话
func (manager *SessionManager) Close(session *Session) {
	if session == nil {
		return
	}

	manager.mutex.Lock()
	_, exists := manager.sessions[session.id]
	delete(manager.sessions, session.id)
	manager.mutex.Unlock()

	session.Close()
	if exists {
		manager.metrics.WebSocketDisconnected()
		utils.GetLogger().Info("页面会话已断开", map[string]interface{}{
			"session_id": session.id,
			"duration_s": int(time.Since(session.createdAt).Seconds()),
		})
	}
}

// Run 定期清理过期连接，直到 ctx 结束后关闭全部会话
func (manager *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.cleanupExpiredSessions()
		case <-ctx.Done():
			manager.Shutdown()
			return
		}
	}
}

// cleanupExpiredSessions 清理过期和死连接
func (manager *SessionManager) cleanupExpiredSessions() {
	manager.mutex.RLock()
	expired := make([]*Session, 0)
	for _, session := range manager.sessions {
		if session.IsClosed() || session.IsExpired(manager.pingTimeout) {
			expired = append(expired, session)
		}
	}
	manager.mutex.RUnlock()

	for _, session := range expired {
		manager.Close(session)
	}
}

// Shutdown 关闭所有会话
func (manager *SessionManager) Shutdown() {
	manager.mutex.RLock()
	all := make([]*Session, 0, len(manager.sessions))
	for _, session := range manager.sessions {
		all = append(all, session)
	}
	manager.mutex.RUnlock()

	for _, session := range all {
		manager.Close(session)
	}
}

// Count 当前会话数
func (manager *SessionManager) Count() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.sessions)
}

// GetStatus 获取管理器状态
func (manager *SessionManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make([]interface{}, 0, len(manager.sessions))
	for _, session := range manager.sessions {
		if session.IsClosed() {
			continue
		}
		snap := session.studio.Snapshot()
		sessions = append(sessions, map[string]interface{}{
			"session_id":   session.id,
			"connected_at": session.createdAt.Format(time.RFC3339),
			"last_ping":    time.Unix(0, session.lastPing.Load()).Format(time.RFC3339),
			"characters":   len(snap.Characters),
			"generating":   snap.Generating,
		})
	}

	return map[string]interface{}{
		"total_sessions":       len(sessions),
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
		"sessions":             sessions,
	}
}
