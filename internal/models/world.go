// internal/models/world.go
package models

import "sort"

// World 世界设定记录，加载后在会话期间只读
type World struct {
	WorldName      string         `json:"world_name"`
	CalendarSystem string         `json:"calendar_system,omitempty"`
	Races          []string       `json:"races"`
	Arcs           map[string]int `json:"arcs"`
	Lore           *Lore          `json:"lore,omitempty"`
	KeyCharacters  []KeyCharacter `json:"key_characters,omitempty"`
}

// Lore 世界背景知识
type Lore struct {
	History     string   `json:"history,omitempty"`
	Factions    []string `json:"factions,omitempty"`
	KeyConcepts []string `json:"key_concepts,omitempty"`
}

// KeyCharacter 原作中的关键角色
type KeyCharacter struct {
	Name        string `json:"name"`
	Appearance  string `json:"appearance"`
	Personality string `json:"personality"`
	Backstory   string `json:"backstory"`
	Power       string `json:"power"`
}

// Arc 一个剧情阶段及其锚定年份
type Arc struct {
	Name string `json:"name"`
	Year int    `json:"year"`
}

// SortedArcs 按年份升序返回剧情阶段，同年按名称排序
func (w *World) SortedArcs() []Arc {
	arcs := make([]Arc, 0, len(w.Arcs))
	for name, year := range w.Arcs {
		arcs = append(arcs, Arc{Name: name, Year: year})
	}
	sort.Slice(arcs, func(i, j int) bool {
		if arcs[i].Year != arcs[j].Year {
			return arcs[i].Year < arcs[j].Year
		}
		return arcs[i].Name < arcs[j].Name
	})
	return arcs
}

// Calendar 返回历法名称，缺省为 "Year"
func (w *World) Calendar() string {
	if w.CalendarSystem == "" {
		return "Year"
	}
	return w.CalendarSystem
}

// TimelinePreview 世界时间线概览（首个与最后一个剧情阶段）
type TimelinePreview struct {
	First *Arc `json:"first,omitempty"`
	Last  *Arc `json:"last,omitempty"`
}

// Preview 生成时间线概览，没有剧情阶段时两端为空
func (w *World) Preview() TimelinePreview {
	arcs := w.SortedArcs()
	if len(arcs) == 0 {
		return TimelinePreview{}
	}
	first, last := arcs[0], arcs[len(arcs)-1]
	return TimelinePreview{First: &first, Last: &last}
}
