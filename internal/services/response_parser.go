// internal/services/response_parser.go
package services

import (
	"html"
	"regexp"
	"strings"

	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/models"
)

// 标签协议
var (
	statsTagPattern    = regexp.MustCompile(`(?s)\|\|\s*STATS\s*\|(.*?)\|\|`)
	socialTagPattern   = regexp.MustCompile(`(?s)\|\|\s*SOCIAL\s*\|(.*?)\|\|`)
	eventTagPattern    = regexp.MustCompile(`(?s)\|\|\s*EVENT\s*\|(.*?)\|\|`)
	anyTagLeader       = regexp.MustCompile(`\|\|\s*(?:STATS|SOCIAL|EVENT)\s*\|`)
	directorPattern    = regexp.MustCompile(`(?is)<DIRECTOR>(.*?)</DIRECTOR>`)
	dividerPattern     = regexp.MustCompile(`---.*?---`)
	dataHeaderPattern  = regexp.MustCompile(`###.*?DATA`)
	dialogueSpanRegexp = regexp.MustCompile(`(?s)".*?"`)
)

// 音效关键词，按优先级排列
var soundCueKeywords = []string{"boom", "explosion", "punch", "slash", "teleport", "flash"}

const (
	unknownField = "Unknown"
	noBioField   = "No info"
)

// ParseResult 一条助手回复的解析结果
type ParseResult struct {
	models.TurnUpdate

	DisplayText string `json:"display_text"`
	DisplayHTML string `json:"display_html"`
	SoundCue    string `json:"sound_cue,omitempty"`
}

// ResponseParser 解析模型回复中的标签并生成展示文本，本身无状态
type ResponseParser struct {
	mode string
}

// NewResponseParser 创建解析器，未知模式按 strip 处理
func NewResponseParser(mode string) *ResponseParser {
	if mode != config.ParseModeTruncate {
		mode = config.ParseModeStrip
	}
	return &ResponseParser{mode: mode}
}

// Mode 返回标签清理模式
func (p *ResponseParser) Mode() string {
	return p.mode
}

// ParseResponse 提取结构化字段并清理展示文本，不会失败
func (p *ResponseParser) ParseResponse(raw string) *ParseResult {
	result := &ParseResult{}

	// 导演块：最后一个生效
	if blocks := directorPattern.FindAllStringSubmatch(raw, -1); len(blocks) > 0 {
		director := strings.TrimSpace(blocks[len(blocks)-1][1])
		result.Director = &director
	}
	text := directorPattern.ReplaceAllString(raw, "")

	text = dividerPattern.ReplaceAllString(text, "")
	text = dataHeaderPattern.ReplaceAllString(text, "")

	// 按 EVENT → STATS → SOCIAL 依次提取并移除，后一类只在前一类移除后的文本中匹配
	stripped := text

	for _, match := range eventTagPattern.FindAllStringSubmatch(stripped, -1) {
		event := strings.TrimSpace(match[1])
		if n := len(result.Events); n > 0 && result.Events[n-1] == event {
			continue
		}
		result.Events = append(result.Events, event)
	}
	stripped = eventTagPattern.ReplaceAllString(stripped, "")

	if match := statsTagPattern.FindStringSubmatch(stripped); match != nil {
		stats := strings.TrimSpace(match[1])
		result.Stats = &stats
	}
	stripped = statsTagPattern.ReplaceAllString(stripped, "")

	for _, match := range socialTagPattern.FindAllStringSubmatch(stripped, -1) {
		if social, ok := parseSocialFields(match[1]); ok {
			result.Socials = append(result.Socials, social)
		}
	}
	stripped = socialTagPattern.ReplaceAllString(stripped, "")

	if p.mode == config.ParseModeTruncate {
		text = truncateAtTag(text)
	} else {
		text = stripped
	}
	text = strings.ReplaceAll(text, "*", "")

	result.DisplayText = text
	result.DisplayHTML = renderDisplayHTML(text)
	result.SoundCue = detectSoundCue(text)

	return result
}

// truncateAtTag 在第一个标签前导符处截断
func truncateAtTag(text string) string {
	if loc := anyTagLeader.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}

// parseSocialFields 解析 SOCIAL 标签内容，缺少姓名时丢弃
func parseSocialFields(inner string) (models.SocialUpdate, bool) {
	social := models.SocialUpdate{
		Name: unknownField,
		SocialRecord: models.SocialRecord{
			Rel:    unknownField,
			Status: unknownField,
			Bio:    noBioField,
		},
	}

	for _, part := range strings.Split(inner, "|") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "Name:"):
			social.Name = strings.TrimSpace(strings.TrimPrefix(part, "Name:"))
		case strings.HasPrefix(part, "Rel:"):
			social.Rel = strings.TrimSpace(strings.TrimPrefix(part, "Rel:"))
		case strings.HasPrefix(part, "Status:"):
			social.Status = strings.TrimSpace(strings.TrimPrefix(part, "Status:"))
		case strings.HasPrefix(part, "Bio:"):
			social.Bio = strings.TrimSpace(strings.TrimPrefix(part, "Bio:"))
		}
	}

	return social, social.Name != unknownField
}

// renderDisplayHTML 转义文本，对白加高亮并把换行转为 <br>
func renderDisplayHTML(text string) string {
	var builder strings.Builder
	last := 0
	for _, loc := range dialogueSpanRegexp.FindAllStringIndex(text, -1) {
		builder.WriteString(html.EscapeString(text[last:loc[0]]))
		builder.WriteString(`<span class="dialog-text">`)
		builder.WriteString(html.EscapeString(text[loc[0]:loc[1]]))
		builder.WriteString(`</span>`)
		last = loc[1]
	}
	builder.WriteString(html.EscapeString(text[last:]))

	return strings.ReplaceAll(builder.String(), "\n", "<br>")
}

func detectSoundCue(text string) string {
	lower := strings.ToLower(text)
	for _, keyword := range soundCueKeywords {
		if strings.Contains(lower, keyword) {
			return keyword
		}
	}
	return ""
}
