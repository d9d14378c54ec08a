// internal/api/websocket_session_test.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/studio"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowConn 记录写出的帧，每次写入前等待 delay，模拟跟不上的浏览器
type slowConn struct {
	delay time.Duration

	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
}

func newSlowConn(delay time.Duration) *slowConn {
	return &slowConn{delay: delay, closed: make(chan struct{})}
}

func (c *slowConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	time.Sleep(c.delay)
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *slowConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, websocket.ErrCloseSent
}

func (c *slowConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *slowConn) SetReadDeadline(time.Time) error           { return nil }
func (c *slowConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *slowConn) SetPongHandler(func(appData string) error) {}

func (c *slowConn) lastSnapshot() (studio.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var frame serverFrame
		if err := json.Unmarshal(c.frames[i], &frame); err != nil || frame.Type != "snapshot" {
			continue
		}
		var snap studio.Snapshot
		if err := json.Unmarshal(frame.Data, &snap); err != nil {
			continue
		}
		return snap, true
	}
	return studio.Snapshot{}, false
}

func longStory(chunks int) []llm.StreamResponse {
	events := make([]llm.StreamResponse, 0, chunks+1)
	for i := 0; i < chunks; i++ {
		events = append(events, llm.StreamResponse{Text: fmt.Sprintf("w%d ", i)})
	}
	return append(events, llm.StreamResponse{Done: true, FinishReason: models.FinishStop})
}

func generateInSession(t *testing.T, session *Session) {
	t.Helper()
	require.NoError(t, session.studio.SelectGenre("Fantasy"))
	require.NoError(t, session.studio.SelectTone("Funny"))
	ok, err := session.studio.Generate(context.Background())
	require.True(t, ok)
	require.NoError(t, err)
}

func TestStalledSessionKeepsLatestSnapshot(t *testing.T) {
	env := newTestEnv(t, &stubProvider{events: longStory(300)})
	session := env.sessions.Open(newSlowConn(0))
	defer env.sessions.Close(session)

	// 没有写协程，快照全部积压
	generateInSession(t, session)

	message := session.takeSnapshot()
	require.NotNil(t, message)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(message, &frame))
	var snap studio.Snapshot
	require.NoError(t, json.Unmarshal(frame.Data, &snap))

	assert.False(t, snap.Generating)
	require.NotNil(t, snap.Story)
	assert.True(t, snap.Story.Complete)
	assert.Equal(t, session.studio.Snapshot().Version, snap.Version)
	assert.Nil(t, session.takeSnapshot(), "邮箱只保留一份")
}

func TestSlowSessionReceivesFinalSnapshot(t *testing.T) {
	env := newTestEnv(t, &stubProvider{events: longStory(300)})
	conn := newSlowConn(2 * time.Millisecond)
	session := env.sessions.Open(conn)
	defer env.sessions.Close(session)

	go (&Handler{}).handleWebSocketWrites(session)
	generateInSession(t, session)

	want := session.studio.Snapshot()
	require.Eventually(t, func() bool {
		snap, ok := conn.lastSnapshot()
		return ok && snap.Version == want.Version
	}, 3*time.Second, 10*time.Millisecond)

	snap, _ := conn.lastSnapshot()
	assert.False(t, snap.Generating)
	require.NotNil(t, snap.Story)
	assert.True(t, snap.Story.Complete)
	assert.Equal(t, want.Story.Content, snap.Story.Content)
}
