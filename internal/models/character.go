// internal/models/character.go
package models

import "strings"

// Character 表示用户为故事定义的一个角色
type Character struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
}

// CharacterDraft 角色表单缓冲区，新增和编辑共用
type CharacterDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
}

// Complete 三个字段去除空白后均非空
func (d CharacterDraft) Complete() bool {
	return strings.TrimSpace(d.Name) != "" &&
		strings.TrimSpace(d.Description) != "" &&
		strings.TrimSpace(d.Personality) != ""
}

// IsEmpty 草稿是否为空
func (d CharacterDraft) IsEmpty() bool {
	return d == CharacterDraft{}
}

// DraftOf 从已有角色加载草稿
func DraftOf(c Character) CharacterDraft {
	return CharacterDraft{
		Name:        c.Name,
		Description: c.Description,
		Personality: c.Personality,
	}
}

// Apply 用草稿字段替换角色内容，ID 保持不变
func (c Character) Apply(d CharacterDraft) Character {
	c.Name = d.Name
	c.Description = d.Description
	c.Personality = d.Personality
	return c
}
