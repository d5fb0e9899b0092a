// internal/models/character.go
package models

// Character 玩家角色，创建会话时录入，之后不再修改
// 故事中的变化由对话记录承载，而不是这个结构体
type Character struct {
	Name        string `json:"name"`
	Race        string `json:"race"`
	Alignment   string `json:"alignment,omitempty"`
	Appearance  string `json:"appearance,omitempty"`
	Personality string `json:"personality,omitempty"`
	Backstory   string `json:"backstory,omitempty"`
	Power       string `json:"power,omitempty"`
}

// 阵营选项
const (
	AlignmentHeroic  = "Heroic"
	AlignmentNeutral = "Neutral"
	AlignmentEvil    = "Evil"
)

// Preset 角色预设，仅用于预填新角色，与运行中的会话无关
type Preset struct {
	Name        string `json:"name"`
	Alignment   string `json:"align,omitempty"`
	Personality string `json:"personality,omitempty"`
	Power       string `json:"power,omitempty"`
	Appearance  string `json:"looks,omitempty"`
	Backstory   string `json:"backstory,omitempty"`
}

// ToCharacter 用预设预填角色，种族由世界设定决定因此留空
func (p *Preset) ToCharacter() Character {
	alignment := p.Alignment
	if alignment == "" {
		alignment = AlignmentNeutral
	}
	return Character{
		Name:        p.Name,
		Alignment:   alignment,
		Appearance:  p.Appearance,
		Personality: p.Personality,
		Backstory:   p.Backstory,
		Power:       p.Power,
	}
}

// PresetFromCharacter 从角色生成预设
func PresetFromCharacter(c Character) Preset {
	return Preset{
		Name:        c.Name,
		Alignment:   c.Alignment,
		Personality: c.Personality,
		Power:       c.Power,
		Appearance:  c.Appearance,
		Backstory:   c.Backstory,
	}
}
