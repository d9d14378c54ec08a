// internal/models/story.go
package models

// Genre 故事类型
type Genre string

// Tone 故事基调
type Tone string

const (
	GenreFantasy Genre = "Fantasy"
	GenreMystery Genre = "Mystery"
	GenreRomance Genre = "Romance"
	GenreSciFi   Genre = "Sci-Fi"

	ToneHappy     Tone = "Happy"
	ToneSad       Tone = "Sad"
	ToneSarcastic Tone = "Sarcastic"
	ToneFunny     Tone = "Funny"
)

// Option 单选项，带展示用的 emoji
type Option struct {
	Value string `json:"value"`
	Emoji string `json:"emoji"`
}

// Label 页面展示文本
func (o Option) Label() string {
	return o.Emoji + " " + o.Value
}

// Genres 可选的故事类型，顺序即页面顺序
var Genres = []Option{
	{Value: string(GenreFantasy), Emoji: "🧙"},
	{Value: string(GenreMystery), Emoji: "🕵️"},
	{Value: string(GenreRomance), Emoji: "💑"},
	{Value: string(GenreSciFi), Emoji: "🚀"},
}

// Tones 可选的故事基调
var Tones = []Option{
	{Value: string(ToneHappy), Emoji: "😊"},
	{Value: string(ToneSad), Emoji: "😢"},
	{Value: string(ToneSarcastic), Emoji: "😏"},
	{Value: string(ToneFunny), Emoji: "😂"},
}

// Valid 是否属于固定选项
func (g Genre) Valid() bool {
	return hasOption(Genres, string(g))
}

// Valid 是否属于固定选项
func (t Tone) Valid() bool {
	return hasOption(Tones, string(t))
}

func hasOption(options []Option, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Selection 当前的类型与基调选择，空值表示未选择
type Selection struct {
	Genre Genre `json:"genre"`
	Tone  Tone  `json:"tone"`
}

// Ready 类型和基调都已选择
func (s Selection) Ready() bool {
	return s.Genre != "" && s.Tone != ""
}

// StoryOptions GET /api/options 响应
type StoryOptions struct {
	Genres []Option `json:"genres"`
	Tones  []Option `json:"tones"`
}
