// internal/api/websocket_test.go
package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/studio"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dialStudio(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/studio"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor 读取帧直到 match 返回 true
func waitFor(t *testing.T, conn *websocket.Conn, match func(serverFrame) bool) serverFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame serverFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func waitForSnapshot(t *testing.T, conn *websocket.Conn, match func(studio.Snapshot) bool) studio.Snapshot {
	t.Helper()
	var snap studio.Snapshot
	waitFor(t, conn, func(f serverFrame) bool {
		if f.Type != "snapshot" {
			return false
		}
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		return match(snap)
	})
	return snap
}

func TestStudioSessionGeneratesStory(t *testing.T) {
	env := newTestEnv(t, &stubProvider{events: []llm.StreamResponse{
		{Text: "The wizard"},
		{Text: " laughed."},
		{Done: true, FinishReason: models.FinishStop},
	}})
	conn := dialStudio(t, env)

	initial := waitForSnapshot(t, conn, func(studio.Snapshot) bool { return true })
	assert.Empty(t, initial.Characters)
	assert.False(t, initial.CanGenerate)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":  "update_draft",
		"draft": models.CharacterDraft{Name: "Merlin", Description: "a wizard", Personality: "grumpy"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "submit_draft"}))
	snap := waitForSnapshot(t, conn, func(s studio.Snapshot) bool { return len(s.Characters) == 1 })
	assert.Equal(t, "Merlin", snap.Characters[0].Name)
	assert.True(t, snap.Draft.IsEmpty())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select_genre", "value": "Fantasy"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select_tone", "value": "Funny"}))
	waitForSnapshot(t, conn, func(s studio.Snapshot) bool { return s.CanGenerate })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate"}))
	final := waitForSnapshot(t, conn, func(s studio.Snapshot) bool { return s.Story != nil && s.Story.Complete })
	assert.Equal(t, "The wizard laughed.", final.Story.Content)
	assert.False(t, final.Generating)
	assert.Equal(t, 1, env.provider.callCount())
}

func TestStudioSessionRejectsUnknownValues(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	conn := dialStudio(t, env)
	waitForSnapshot(t, conn, func(studio.Snapshot) bool { return true })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select_genre", "value": "Horror"}))
	frame := waitFor(t, conn, func(f serverFrame) bool { return f.Type == "error" })
	assert.Contains(t, frame.Error, "Horror")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	frame = waitFor(t, conn, func(f serverFrame) bool { return f.Type == "error" })
	assert.Contains(t, frame.Error, "dance")
}

func TestStudioSessionGenerateDisabled(t *testing.T) {
	env := newTestEnv(t, &stubProvider{events: []llm.StreamResponse{{Done: true}}})
	conn := dialStudio(t, env)
	waitForSnapshot(t, conn, func(studio.Snapshot) bool { return true })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "generate"}))
	waitFor(t, conn, func(f serverFrame) bool { return f.Type == "error" })
	assert.Equal(t, 0, env.provider.callCount())
}

func TestStudioSessionPingAndClose(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	conn := dialStudio(t, env)
	waitForSnapshot(t, conn, func(studio.Snapshot) bool { return true })

	require.Eventually(t, func() bool { return env.sessions.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	waitFor(t, conn, func(f serverFrame) bool { return f.Type == "pong" })

	status := env.sessions.GetStatus()
	assert.Equal(t, 1, status["total_sessions"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond,
		"断开后会话应被释放")
}

func TestSessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	first := dialStudio(t, env)
	second := dialStudio(t, env)
	waitForSnapshot(t, first, func(studio.Snapshot) bool { return true })
	waitForSnapshot(t, second, func(studio.Snapshot) bool { return true })

	require.NoError(t, first.WriteJSON(map[string]string{"type": "select_genre", "value": "Mystery"}))
	waitForSnapshot(t, first, func(s studio.Snapshot) bool { return s.Selection.Genre == models.GenreMystery })

	require.NoError(t, second.WriteJSON(map[string]string{"type": "ping"}))
	waitFor(t, second, func(f serverFrame) bool {
		if f.Type == "snapshot" {
			var snap studio.Snapshot
			require.NoError(t, json.Unmarshal(f.Data, &snap))
			assert.Empty(t, snap.Selection.Genre, "会话之间不共享状态")
		}
		return f.Type == "pong"
	})
}
