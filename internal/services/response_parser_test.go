package services

import (
	"testing"

	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatsExtractionAndRemoval(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("Hello ||STATS | Age: 5 | Year: 1990 ||")

	require.NotNil(t, result.Stats)
	assert.Equal(t, "Age: 5 | Year: 1990", *result.Stats)
	assert.Equal(t, "Hello ", result.DisplayText)
	assert.NotContains(t, result.DisplayHTML, "||")
}

func TestParseFirstStatsWinsAndAllAreRemoved(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("A || STATS | Age: 1 || B || STATS | Age: 2 || C")

	require.NotNil(t, result.Stats)
	assert.Equal(t, "Age: 1", *result.Stats)
	assert.Equal(t, "A  B  C", result.DisplayText)
}

func TestParseWithoutStatsLeavesStateUnchanged(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)
	state := models.NewSessionState(models.Character{Name: "Rin"}, &models.World{}, "sys", "Age: 16 | Year: 1990", "")

	result := parser.ParseResponse("The wind howls over the ridge.")
	state.ApplyUpdate(result.TurnUpdate)

	assert.Nil(t, result.Stats)
	assert.Equal(t, "Age: 16 | Year: 1990", state.CurrentStats)
}

func TestParseConsecutiveEventsAreDeduplicated(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)
	state := models.NewSessionState(models.Character{Name: "Rin"}, &models.World{}, "sys", "", "")

	first := parser.ParseResponse("|| EVENT | The academy burned down || || EVENT | The academy burned down ||")
	state.ApplyUpdate(first.TurnUpdate)
	assert.Equal(t, []string{"The academy burned down"}, state.EventLog)

	second := parser.ParseResponse("|| EVENT |  The academy burned down  ||")
	state.ApplyUpdate(second.TurnUpdate)
	assert.Equal(t, []string{"The academy burned down"}, state.EventLog)

	third := parser.ParseResponse("|| EVENT | War begins || || EVENT | The academy burned down ||")
	state.ApplyUpdate(third.TurnUpdate)
	assert.Equal(t, []string{"The academy burned down", "War begins", "The academy burned down"}, state.EventLog)
}

func TestParseSocialLastWriteWins(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)
	state := models.NewSessionState(models.Character{Name: "Kai"}, &models.World{}, "sys", "", "")

	result := parser.ParseResponse(
		"|| SOCIAL | Name: Rin | Rel: Rival | Status: Training | Bio: Swordswoman ||\n" +
			"|| SOCIAL | Name: Rin | Rel: Ally ||")
	state.ApplyUpdate(result.TurnUpdate)

	require.Contains(t, state.Socials, "Rin")
	assert.Equal(t, models.SocialRecord{Rel: "Ally", Status: "Unknown", Bio: "No info"}, state.Socials["Rin"])
}

func TestParseSocialWithoutNameIsDropped(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("|| SOCIAL | Rel: Mentor | Status: Sleeping ||")

	assert.Empty(t, result.Socials)
	assert.Equal(t, "", result.DisplayText)
}

func TestParseSocialMultiline(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("|| SOCIAL |\n Name: Rin |\n Rel: Rival\n||")

	require.Len(t, result.Socials, 1)
	assert.Equal(t, "Rin", result.Socials[0].Name)
	assert.Equal(t, "Rival", result.Socials[0].Rel)
}

func TestParseDirectorBlock(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("<director> first plan </director>Story<DIRECTOR>\n final plan \n</DIRECTOR> goes on")

	require.NotNil(t, result.Director)
	assert.Equal(t, "final plan", *result.Director)
	assert.Equal(t, "Story goes on", result.DisplayText)
}

func TestParseDecorativeCleanup(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("--- SCENE ---*She* smiles.### STATUS DATA")

	assert.Equal(t, "She smiles.", result.DisplayText)
}

func TestParseTruncateMode(t *testing.T) {
	parser := NewResponseParser(config.ParseModeTruncate)

	result := parser.ParseResponse("The gate opens. || EVENT | Gate opened || trailing chatter || STATS | Age: 3 ||")

	assert.Equal(t, "The gate opens. ", result.DisplayText)
	require.NotNil(t, result.Stats)
	assert.Equal(t, "Age: 3", *result.Stats)
	assert.Equal(t, []string{"Gate opened"}, result.Events)
}

func TestParseDisplayHTML(t *testing.T) {
	parser := NewResponseParser("")

	result := parser.ParseResponse("Rin said \"Run <now>!\"\nA & B")

	assert.Equal(t, config.ParseModeStrip, parser.Mode())
	assert.Equal(t,
		`Rin said <span class="dialog-text">&#34;Run &lt;now&gt;!&#34;</span><br>A &amp; B`,
		result.DisplayHTML)
	assert.Equal(t, "Rin said \"Run <now>!\"\nA & B", result.DisplayText)
}

func TestParseSoundCue(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	assert.Equal(t, "explosion", parser.ParseResponse("An EXPLOSION rocks the hall, then a punch").SoundCue)
	assert.Equal(t, "", parser.ParseResponse("Silence.").SoundCue)
}

func TestParseNeverFailsOnMalformedTags(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	result := parser.ParseResponse("|| STATS | Age: 4 and the tag never closes")

	assert.Nil(t, result.Stats)
	assert.Equal(t, "|| STATS | Age: 4 and the tag never closes", result.DisplayText)
}

func TestParseAdjacentTagsFollowExtractionOrder(t *testing.T) {
	parser := NewResponseParser(config.ParseModeStrip)

	// EVENT 先被移除，共用的分隔符不再属于 SOCIAL
	result := parser.ParseResponse("Story. || EVENT | War || SOCIAL | Name: Bo | Rel: Ally ||")

	assert.Equal(t, []string{"War"}, result.Events)
	assert.Empty(t, result.Socials)
	assert.Equal(t, "Story.  SOCIAL | Name: Bo | Rel: Ally ||", result.DisplayText)

	// 分隔符各自独立时三类标签都能提取
	result = parser.ParseResponse("Dawn. || SOCIAL | Name: Bo | Rel: Ally || || STATS | Age: 9 || || EVENT | War ||")

	assert.Equal(t, []string{"War"}, result.Events)
	require.NotNil(t, result.Stats)
	assert.Equal(t, "Age: 9", *result.Stats)
	require.Len(t, result.Socials, 1)
	assert.Equal(t, "Bo", result.Socials[0].Name)
	assert.Equal(t, "Dawn.   ", result.DisplayText)
}
