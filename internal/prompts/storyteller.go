// internal/prompts/storyteller.go
package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/Corphon/StoryTeller/internal/models"
)

// SystemInstruction 固定的讲故事人设与输出格式约定
const SystemInstruction = `You are a professional storyteller who creates customized narratives. Follow these steps:
1. Check if the user provided character details in their message
2. If characters are provided, use them exactly as given
3. If no characters provided, create original characters with unique traits
4. Write a compelling story (3-5 paragraphs) with a clear narrative arc
5. After the story, add "Character Summaries:" section
6. For each character, list:
   - Name
   - Key traits
   - Role in the story
   - Impact on the plot

Maintain consistent character portrayals and ensure plot twists are supported by character motivations.`

// storyRequestFormat 用户请求模板：类型、基调、角色 JSON
const storyRequestFormat = "Generate a %s story in a %s tone featuring these characters: %s"

// BuildStoryRequest 构造唯一的用户请求消息
func BuildStoryRequest(sel models.Selection, characters []models.Character) (models.Message, error) {
	if characters == nil {
		characters = []models.Character{}
	}
	encoded, err := json.Marshal(characters)
	if err != nil {
		return models.Message{}, fmt.Errorf("序列化角色失败: %w", err)
	}
	return models.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf(storyRequestFormat, sel.Genre, sel.Tone, encoded),
	}, nil
}

// WithSystemInstruction 返回以系统指令开头的新消息列表，不修改入参
func WithSystemInstruction(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: SystemInstruction})
	return append(out, messages...)
}
