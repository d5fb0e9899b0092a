// internal/models/session.go
package models

import (
	"maps"
	"slices"
	"strings"
)

// Role 对话消息的作者角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 对话记录中的一条消息
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SocialRecord NPC关系记录
type SocialRecord struct {
	Rel    string `json:"rel"`
	Status string `json:"status"`
	Bio    string `json:"bio"`
}

// SocialUpdate 一条待写入的NPC关系
type SocialUpdate struct {
	Name string `json:"name"`
	SocialRecord
}

// TurnUpdate 从一条助手回复中提取的结构化字段
// 指针字段为 nil 表示本轮没有对应标签，状态保持不变
type TurnUpdate struct {
	Stats    *string        `json:"stats,omitempty"`
	Socials  []SocialUpdate `json:"socials,omitempty"`
	Events   []string       `json:"events,omitempty"`
	Director *string        `json:"director,omitempty"`
}

// SessionState 会话状态，同时也是存档快照的结构
type SessionState struct {
	Character    Character               `json:"character"`
	World        *World                  `json:"world"`
	Transcript   []Turn                  `json:"history"`
	CurrentStats string                  `json:"stats"`
	Socials      map[string]SocialRecord `json:"socials"`
	EventLog     []string                `json:"events"`
	Context      string                  `json:"context,omitempty"`
	DirectorLog  string                  `json:"director,omitempty"`
}

// NewSessionState 创建仅包含系统消息的会话状态
func NewSessionState(character Character, world *World, systemPrompt, initialStats, context string) *SessionState {
	return &SessionState{
		Character:    character,
		World:        world,
		Transcript:   []Turn{{Role: RoleSystem, Content: systemPrompt}},
		CurrentStats: initialStats,
		Socials:      make(map[string]SocialRecord),
		EventLog:     []string{},
		Context:      context,
	}
}

// Normalize 补齐从旧存档读取时缺失的集合字段
func (s *SessionState) Normalize() {
	if s.Socials == nil {
		s.Socials = make(map[string]SocialRecord)
	}
	if s.EventLog == nil {
		s.EventLog = []string{}
	}
	if s.Transcript == nil {
		s.Transcript = []Turn{}
	}
}

// ApplyUpdate 将提取结果写入会话状态
func (s *SessionState) ApplyUpdate(update TurnUpdate) {
	s.Normalize()

	if update.Director != nil {
		s.DirectorLog = *update.Director
	}

	if update.Stats != nil {
		s.CurrentStats = *update.Stats
	}

	// 同一轮的多条记录按顺序写入，同名后者覆盖前者
	for _, social := range update.Socials {
		s.Socials[social.Name] = social.SocialRecord
	}

	// 只与日志末尾比较，不做全量去重
	for _, event := range update.Events {
		if n := len(s.EventLog); n > 0 && s.EventLog[n-1] == event {
			continue
		}
		s.EventLog = append(s.EventLog, event)
	}
}

// LastTurn 返回最后一条消息
func (s *SessionState) LastTurn() (Turn, bool) {
	if len(s.Transcript) == 0 {
		return Turn{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// StatCards 将状态文本按竖线拆分为卡片
func (s *SessionState) StatCards() []string {
	cards := []string{}
	for _, part := range strings.Split(s.CurrentStats, "|") {
		if part = strings.TrimSpace(part); part != "" {
			cards = append(cards, part)
		}
	}
	return cards
}

// DerivedState 会话中由解析器维护的派生字段
type DerivedState struct {
	CurrentStats string
	Socials      map[string]SocialRecord
	EventLog     []string
	DirectorLog  string
}

// CaptureDerived 复制当前派生字段
func (s *SessionState) CaptureDerived() *DerivedState {
	return &DerivedState{
		CurrentStats: s.CurrentStats,
		Socials:      maps.Clone(s.Socials),
		EventLog:     slices.Clone(s.EventLog),
		DirectorLog:  s.DirectorLog,
	}
}

// RestoreDerived 恢复之前复制的派生字段
func (s *SessionState) RestoreDerived(d *DerivedState) {
	if d == nil {
		return
	}
	s.CurrentStats = d.CurrentStats
	s.Socials = maps.Clone(d.Socials)
	s.EventLog = slices.Clone(d.EventLog)
	s.DirectorLog = d.DirectorLog
	s.Normalize()
}

// Clone 深拷贝会话状态，世界设定只读因此共享
func (s *SessionState) Clone() *SessionState {
	clone := *s
	clone.Transcript = slices.Clone(s.Transcript)
	clone.Socials = maps.Clone(s.Socials)
	clone.EventLog = slices.Clone(s.EventLog)
	clone.Normalize()
	return &clone
}
