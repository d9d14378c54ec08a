// internal/studio/studio.go
package studio

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/prompts"
	"github.com/Corphon/StoryTeller/internal/utils"
)

// Generator 流式生成端口。进程内由故事服务实现，远程由 HTTP 客户端实现
type Generator interface {
	StreamText(ctx context.Context, messages []models.Message, onText func(string)) (models.Finish, error)
}

// StoryView 当前展示的故事
type StoryView struct {
	Content      string              `json:"content"`
	Complete     bool                `json:"complete"`
	Failed       bool                `json:"failed,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
}

// Snapshot 某一时刻的完整表单状态
type Snapshot struct {
	Characters  []models.Character    `json:"characters"`
	Draft       models.CharacterDraft `json:"draft"`
	Editing     bool                  `json:"editing"`
	EditingID   int64                 `json:"editing_id,omitempty"`
	Selection   models.Selection      `json:"selection"`
	CanGenerate bool                  `json:"can_generate"`
	Generating  bool                  `json:"generating"`
	Story       *StoryView            `json:"story,omitempty"`
	Error       string                `json:"error,omitempty"`
	Version     uint64                `json:"version"`
}

type entry struct {
	message  models.Message
	complete bool
	failed   bool
	finish   models.FinishReason
}

// Studio 单个页面会话的表单状态控制器，可并发使用
type Studio struct {
	gen    Generator
	now    func() time.Time
	logger *utils.Logger

	mu         sync.Mutex
	characters []models.Character
	draft      models.CharacterDraft
	editing    bool
	editingID  int64
	selection  models.Selection
	entries    []entry
	awaiting   bool
	lastErr    string
	lastID     int64
	version    uint64

	subscribers map[int]func(Snapshot)
	nextSub     int

	notifyMu  sync.Mutex
	delivered uint64
}

// Option Studio 可选配置
type Option func(*Studio)

// WithClock 替换时钟，用于生成角色 ID
func WithClock(now func() time.Time) Option {
	return func(s *Studio) { s.now = now }
}

// WithLogger 设置日志
func WithLogger(l *utils.Logger) Option {
	return func(s *Studio) { s.logger = l }
}

// New 创建空的会话状态
func New(gen Generator, opts ...Option) *Studio {
	s := &Studio{
		gen:         gen,
		now:         time.Now,
		characters:  []models.Character{},
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = utils.GetLogger()
	}
	return s
}

// Subscribe 注册观察者，每次状态变化后收到新的快照。返回取消函数
func (s *Studio) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Snapshot 当前状态
func (s *Studio) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UpdateDraft 覆盖表单缓冲区
func (s *Studio) UpdateDraft(d models.CharacterDraft) {
	s.mu.Lock()
	s.draft = d
	s.mu.Unlock()
	s.notify()
}

// AddCharacter 三个字段都非空时追加新角色并清空草稿。编辑模式下不可用
func (s *Studio) AddCharacter(d models.CharacterDraft) (models.Character, bool) {
	s.mu.Lock()
	if s.editing || !d.Complete() {
		s.mu.Unlock()
		return models.Character{}, false
	}

	c := models.Character{ID: s.nextIDLocked()}.Apply(trimDraft(d))
	s.characters = append(s.characters, c)
	s.draft = models.CharacterDraft{}
	s.mu.Unlock()

	s.notify()
	return c, true
}

// DeleteCharacter 删除角色；正在编辑的角色被删除时退出编辑模式
func (s *Studio) DeleteCharacter(id int64) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	s.characters = append(s.characters[:idx:idx], s.characters[idx+1:]...)
	if s.editing && s.editingID == id {
		s.exitEditLocked()
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// StartEditing 把角色字段载入草稿并进入编辑模式
func (s *Studio) StartEditing(id int64) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	s.editing = true
	s.editingID = id
	s.draft = models.DraftOf(s.characters[idx])
	s.mu.Unlock()

	s.notify()
	return true
}

// SaveEdit 用草稿原位替换被编辑角色，保留 ID 和位置
func (s *Studio) SaveEdit() bool {
	s.mu.Lock()
	if !s.editing || !s.draft.Complete() {
		s.mu.Unlock()
		return false
	}
	idx := s.indexLocked(s.editingID)
	if idx < 0 {
		s.exitEditLocked()
		s.mu.Unlock()
		s.notify()
		return false
	}

	s.characters[idx] = s.characters[idx].Apply(trimDraft(s.draft))
	s.exitEditLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// CancelEdit 放弃编辑
func (s *Studio) CancelEdit() bool {
	s.mu.Lock()
	if !s.editing {
		s.mu.Unlock()
		return false
	}
	s.exitEditLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// SubmitDraft 表单按钮：编辑模式下保存，否则新增
func (s *Studio) SubmitDraft() bool {
	s.mu.Lock()
	editing, draft := s.editing, s.draft
	s.mu.Unlock()

	if editing {
		return s.SaveEdit()
	}
	_, ok := s.AddCharacter(draft)
	return ok
}

// SelectGenre 单选故事类型
func (s *Studio) SelectGenre(value string) error {
	g := models.Genre(value)
	if !g.Valid() {
		return apperrors.NewValidationError("未知的故事类型: "+value, nil)
	}
	s.mu.Lock()
	s.selection.Genre = g
	s.mu.Unlock()
	s.notify()
	return nil
}

// SelectTone 单选故事基调
func (s *Studio) SelectTone(value string) error {
	t := models.Tone(value)
	if !t.Valid() {
		return apperrors.NewValidationError("未知的故事基调: "+value, nil)
	}
	s.mu.Lock()
	s.selection.Tone = t
	s.mu.Unlock()
	s.notify()
	return nil
}

// Generate 发起一次故事生成并阻塞到结束。
// 类型或基调未选择、或已有生成进行中时返回 false，不发出任何请求。
func (s *Studio) Generate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if !s.selection.Ready() || s.awaiting {
		s.mu.Unlock()
		return false, nil
	}

	request, err := prompts.BuildStoryRequest(s.selection, s.characters)
	if err != nil {
		s.mu.Unlock()
		return false, apperrors.NewProcessingError("构造故事请求失败", err)
	}

	sel := s.selection
	history := append(s.historyLocked(), request)
	s.entries = append(s.entries, entry{message: request, complete: true})
	s.awaiting = true
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()

	assistant := -1
	finish, err := s.gen.StreamText(ctx, history, func(chunk string) {
		s.mu.Lock()
		if assistant < 0 {
			s.entries = append(s.entries, entry{message: models.Message{Role: models.RoleAssistant}})
			assistant = len(s.entries) - 1
		}
		s.entries[assistant].message.Content += chunk
		s.mu.Unlock()
		s.notify()
	})

	s.mu.Lock()
	s.awaiting = false
	if err != nil {
		if assistant >= 0 {
			s.entries[assistant].failed = true
		}
		s.lastErr = err.Error()
	} else if assistant >= 0 {
		s.entries[assistant].complete = true
		s.entries[assistant].finish = finish.Reason
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.logger.Warn("故事生成失败", map[string]interface{}{
			"genre": string(sel.Genre),
			"tone":  string(sel.Tone),
			"error": err,
		})
		return true, err
	}
	return true, nil
}

// historyLocked 发送给生成端的历史：用户消息和已完成的助手消息
func (s *Studio) historyLocked() []models.Message {
	history := make([]models.Message, 0, len(s.entries)+1)
	for _, e := range s.entries {
		if e.message.Role == models.RoleAssistant && !e.complete {
			continue
		}
		history = append(history, e.message)
	}
	return history
}

func (s *Studio) snapshotLocked() Snapshot {
	snap := Snapshot{
		Characters:  append([]models.Character{}, s.characters...),
		Draft:       s.draft,
		Editing:     s.editing,
		Selection:   s.selection,
		CanGenerate: s.selection.Ready() && !s.awaiting,
		Generating:  s.awaiting,
		Error:       s.lastErr,
		Version:     s.version,
	}
	if s.editing {
		snap.EditingID = s.editingID
	}
	if n := len(s.entries); n > 0 {
		last := s.entries[n-1]
		if last.message.Role == models.RoleAssistant && last.message.Content != "" {
			snap.Story = &StoryView{
				Content:      last.message.Content,
				Complete:     last.complete,
				Failed:       last.failed,
				FinishReason: last.finish,
			}
		}
	}
	return snap
}

// notify 把最新快照推送给观察者；旧版本的快照不会在新版本之后送达
func (s *Studio) notify() {
	s.mu.Lock()
	s.version++
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version
	for _, fn := range subs {
		fn(snap)
	}
}

// nextIDLocked 基于毫秒时间戳的递增 ID
func (s *Studio) nextIDLocked() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Studio) indexLocked(id int64) int {
	for i, c := range s.characters {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Studio) exitEditLocked() {
	s.editing = false
	s.editingID = 0
	s.draft = models.CharacterDraft{}
}

func trimDraft(d models.CharacterDraft) models.CharacterDraft {
	return models.CharacterDraft{
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Personality: strings.TrimSpace(d.Personality),
	}
}
