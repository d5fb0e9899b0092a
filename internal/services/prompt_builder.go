// internal/services/prompt_builder.go
package services

import (
	"fmt"
	"strings"

	"github.com/Corphon/SekaiHub/internal/models"
)

// StartMode 开局方式
type StartMode string

const (
	// ModeBorn 从出生开始，年份倒推
	ModeBorn StartMode = "born"
	// ModeDropIn 以指定年龄直接进入剧情阶段
	ModeDropIn StartMode = "drop_in"
)

const (
	bornIntro   = "The player is being born."
	dropInIntro = "The player enters the story at this age."

	// 主线剧情在最早剧情阶段之后若干年开始
	canonStartOffset = 15
	lateTimelineSpan = 5
)

// StartPoint 开局年份与年龄
type StartPoint struct {
	Year  int
	Age   int
	Intro string
}

// ResolveStart 根据剧情阶段年份、年龄和开局方式计算开局点
func ResolveStart(arcYear, age int, mode StartMode) StartPoint {
	if mode == ModeBorn {
		return StartPoint{Year: arcYear - age, Age: 0, Intro: bornIntro}
	}
	return StartPoint{Year: arcYear, Age: age, Intro: dropInIntro}
}

// CanonStartYear 主线开始年份，没有剧情阶段时返回 false
func CanonStartYear(world *models.World) (int, bool) {
	if world == nil || len(world.Arcs) == 0 {
		return 0, false
	}
	first := true
	earliest := 0
	for _, year := range world.Arcs {
		if first || year < earliest {
			earliest = year
			first = false
		}
	}
	return earliest + canonStartOffset, true
}

// TimelineWarning 返回开局年份相对主线的警告，正常区间返回空串
func TimelineWarning(world *models.World, year int) string {
	canonStart, ok := CanonStartYear(world)
	if !ok {
		return ""
	}
	switch {
	case year < canonStart:
		return fmt.Sprintf("CRITICAL WARNING: Year %d. BEFORE main plot. Canon characters are CHILDREN/UNBORN.", year)
	case year > canonStart+lateTimelineSpan:
		return fmt.Sprintf("CRITICAL WARNING: Year %d. LATE timeline. Canon characters have aged accordingly.", year)
	}
	return ""
}

// InitialStats 开局状态文本
func InitialStats(start StartPoint) string {
	return fmt.Sprintf("Age: %d | Year: %d", start.Age, start.Year)
}

// BuildSystemPrompt 生成会话的系统消息
func BuildSystemPrompt(world *models.World, character models.Character, start StartPoint) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the Engine of an RPG in %s.\n", world.WorldName)
	b.WriteString("--- WORLD KNOWLEDGE ---\n")
	fmt.Fprintf(&b, "Calendar: %s\n", world.Calendar())
	fmt.Fprintf(&b, "CURRENT YEAR: %d\n", start.Year)
	b.WriteString(formatLore(world.Lore))
	b.WriteString(formatKeyCharacters(world.KeyCharacters))

	b.WriteString("--- PLAYER ---\n")
	fmt.Fprintf(&b, "Name: %s | Race: %s | Align: %s\n", character.Name, character.Race, character.Alignment)
	fmt.Fprintf(&b, "Age: %d\n", start.Age)
	fmt.Fprintf(&b, "Appearance: %s\n", character.Appearance)
	fmt.Fprintf(&b, "Personality: %s\n", character.Personality)
	fmt.Fprintf(&b, "Backstory: %s\n", character.Backstory)
	if character.Power != "" {
		fmt.Fprintf(&b, "Power: %s\n", character.Power)
	}

	b.WriteString("--- LOGIC GATES ---\n")
	fmt.Fprintf(&b, "1. **TIMELINE CHECK:** %s\n", TimelineWarning(world, start.Year))
	b.WriteString("2. **ANTI-PUPPETING:** Never write the user's thoughts/actions.\n")
	b.WriteString("3. **DIRECTOR:** Put private planning inside <DIRECTOR>...</DIRECTOR>. It is never shown to the player.\n")

	b.WriteString("--- DATA TAGS ---\n")
	fmt.Fprintf(&b, "|| STATS | Age: %d | Year: %d | Loc: [Place] ||\n", start.Age, start.Year)
	b.WriteString("|| SOCIAL | Name: [Name] | Rel: [Role] | Status: [Action] | Bio: [Lore] ||\n")
	b.WriteString("|| EVENT | [Major Event] ||\n")
	fmt.Fprintf(&b, "Start simulation. Context: %s", start.Intro)

	return b.String()
}

func formatLore(lore *models.Lore) string {
	if lore == nil {
		return ""
	}
	var b strings.Builder
	if lore.History != "" {
		fmt.Fprintf(&b, "HISTORY:\n%s\n\n", lore.History)
	}
	if len(lore.Factions) > 0 {
		b.WriteString("FACTIONS:\n")
		for _, faction := range lore.Factions {
			fmt.Fprintf(&b, "- %s\n", faction)
		}
		b.WriteString("\n")
	}
	if len(lore.KeyConcepts) > 0 {
		b.WriteString("CONCEPTS:\n")
		for _, concept := range lore.KeyConcepts {
			fmt.Fprintf(&b, "- %s\n", concept)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatKeyCharacters(characters []models.KeyCharacter) string {
	var b strings.Builder
	for _, c := range characters {
		fmt.Fprintf(&b, "Name: %s\nApp: %s\nPers: %s\nLore: %s\nPower: %s\n---\n",
			c.Name, c.Appearance, c.Personality, c.Backstory, c.Power)
	}
	return b.String()
}

// BoundHistory 超过 limit 条时只保留系统消息和最近 keep 条
func BoundHistory(transcript []models.Turn, limit, keep int) []models.Turn {
	if len(transcript) <= limit || len(transcript) == 0 {
		return transcript
	}
	bounded := make([]models.Turn, 0, keep+1)
	bounded = append(bounded, transcript[0])
	return append(bounded, transcript[len(transcript)-keep:]...)
}
