package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Corphon/SekaiHub/internal/config"
	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, provider *fakeProvider) (*GameSession, *SaveService) {
	t.Helper()
	store, err := storage.NewFileSaveStore(t.TempDir())
	require.NoError(t, err)
	saves := NewSaveService(store)
	t.Cleanup(func() { saves.Close() })

	session := NewGameSession("test-session", SessionDeps{
		LLM:          newTestLLMService(provider),
		Saves:        saves,
		Parser:       NewResponseParser(config.ParseModeStrip),
		HistoryLimit: 15,
		HistoryKeep:  10,
	})
	return session, saves
}

func launchRequest(mode StartMode) LaunchRequest {
	return LaunchRequest{
		World:     testWorld(),
		Character: models.Character{Name: "Kai Ren", Race: "Esper"},
		Arc:       "Academy Arc",
		Age:       16,
		Mode:      mode,
	}
}

func TestLaunchBornSeedsStateAndAutosaves(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "A cry in the night. || STATS | Age: 0 | Year: 1974 | Loc: Clinic ||"})
	session, saves := newTestSession(t, provider)

	result, err := session.Launch(context.Background(), launchRequest(ModeBorn), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, session.Status())
	assert.Equal(t, 1, result.Index)
	assert.Equal(t, "autosave_KaiRen", result.AutosaveSlot)
	assert.Equal(t, "A cry in the night. ", result.Parsed.DisplayText)

	state := session.State()
	require.Len(t, state.Transcript, 2)
	assert.Equal(t, models.RoleSystem, state.Transcript[0].Role)
	assert.Contains(t, state.Transcript[0].Content, "CURRENT YEAR: 1974")
	assert.Equal(t, "Age: 0 | Year: 1974 | Loc: Clinic", state.CurrentStats)
	assert.Equal(t, models.AlignmentNeutral, state.Character.Alignment)
	assert.Equal(t, "The player is being born.", state.Context)

	saved, err := saves.LoadSave(context.Background(), "autosave_KaiRen")
	require.NoError(t, err)
	assert.Equal(t, state, saved)
}

func TestLaunchDropInKeepsInitialStatsWhenTagMissing(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "The academy gates loom."})
	session, _ := newTestSession(t, provider)

	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)

	assert.Equal(t, "Age: 16 | Year: 1990", session.State().CurrentStats)
}

func TestLaunchValidation(t *testing.T) {
	session, _ := newTestSession(t, newFakeProvider())

	bad := launchRequest(ModeBorn)
	bad.Arc = "Unknown Arc"
	_, err := session.Launch(context.Background(), bad, nil)
	assert.True(t, appErrors.IsValidationError(err))

	bad = launchRequest("sideways")
	_, err = session.Launch(context.Background(), bad, nil)
	assert.True(t, appErrors.IsValidationError(err))

	bad = launchRequest(ModeBorn)
	bad.Character.Name = " "
	_, err = session.Launch(context.Background(), bad, nil)
	assert.True(t, appErrors.IsValidationError(err))

	assert.Equal(t, StatusIdle, session.Status())
}

func TestLaunchFailureStaysActiveWithSystemTurn(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{err: errors.New("down")},
		fakeReply{err: errors.New("still down")},
		fakeReply{text: "Finally. || STATS | Age: 16 | Year: 1990 ||"},
	)
	session, _ := newTestSession(t, provider)

	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsProviderError(err))
	assert.Equal(t, StatusActive, session.Status())
	assert.Len(t, session.State().Transcript, 1)

	_, err = session.Continue(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, session.State().Transcript, 2)
}

func TestSubmitActionAppendsTurnsAndAppliesTags(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "Opening."},
		fakeReply{text: "Steel rings. || SOCIAL | Name: Rin | Rel: Rival || || EVENT | Duel at dawn || || STATS | Age: 16 | Year: 1991 ||"},
	)
	session, _ := newTestSession(t, provider)
	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)

	result, err := session.SubmitAction(context.Background(), "I draw my *sword*", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Index)

	state := session.State()
	require.Len(t, state.Transcript, 4)
	assert.Equal(t, models.Turn{Role: models.RoleUser, Content: "I draw my *sword*"}, state.Transcript[2])
	assert.Equal(t, "Age: 16 | Year: 1991", state.CurrentStats)
	assert.Equal(t, "Rival", state.Socials["Rin"].Rel)
	assert.Equal(t, []string{"Duel at dawn"}, state.EventLog)

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Len(t, requests[1].Messages, 3)
}

func TestSubmitActionFailureRollsBack(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "Opening."},
		fakeReply{err: errors.New("quota")},
		fakeReply{err: errors.New("quota")},
	)
	session, _ := newTestSession(t, provider)
	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)
	before := session.State()

	_, err = session.SubmitAction(context.Background(), "Run", nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsProviderError(err))
	assert.Equal(t, before, session.State())

	_, err = session.SubmitAction(context.Background(), "   ", nil)
	assert.True(t, appErrors.IsValidationError(err))
}

func TestRerollOnUserEndingTranscriptIsNoOp(t *testing.T) {
	provider := newFakeProvider()
	session, _ := newTestSession(t, provider)
	require.NoError(t, session.Resume(sampleState()))
	before := session.State()

	result, err := session.Reroll(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Empty(t, provider.Requests())
	assert.Equal(t, before, session.State())
}

func TestRerollRestoresDerivedStateBeforeRegenerating(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "Opening. || STATS | Age: 16 | Year: 1990 ||"},
		fakeReply{text: "Bad branch. || STATS | Age: 99 | Year: 2073 || || EVENT | Meteor || <DIRECTOR>doom</DIRECTOR>"},
		fakeReply{text: "Better branch. || EVENT | Quiet night ||"},
	)
	session, _ := newTestSession(t, provider)
	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)
	_, err = session.SubmitAction(context.Background(), "Wait", nil)
	require.NoError(t, err)
	require.Equal(t, "Age: 99 | Year: 2073", session.State().CurrentStats)

	result, err := session.Reroll(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	state := session.State()
	require.Len(t, state.Transcript, 4)
	assert.Equal(t, "Better branch. || EVENT | Quiet night ||", state.Transcript[3].Content)
	assert.Equal(t, "Age: 16 | Year: 1990", state.CurrentStats)
	assert.Equal(t, []string{"Quiet night"}, state.EventLog)
	assert.Equal(t, "", state.DirectorLog)

	requests := provider.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, requests[1].Messages, requests[2].Messages)
}

func TestRerollFailureRestoresPoppedTurn(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "Opening. || STATS | Age: 16 | Year: 1990 ||"},
		fakeReply{err: errors.New("quota")},
		fakeReply{err: errors.New("quota")},
	)
	session, _ := newTestSession(t, provider)
	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)
	before := session.State()

	_, err = session.Reroll(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, before, session.State())
}

func TestEditTurn(t *testing.T) {
	session, _ := newTestSession(t, newFakeProvider())
	require.NoError(t, session.Resume(sampleState()))

	require.NoError(t, session.EditTurn(1, "Rewritten || STATS | Age: 1 ||"))
	state := session.State()
	assert.Equal(t, "Rewritten || STATS | Age: 1 ||", state.Transcript[1].Content)
	assert.Equal(t, "Age: 16 | Year: 1990", state.CurrentStats)

	require.NoError(t, session.EditTurn(0, "new system prompt"))
	assert.True(t, appErrors.IsValidationError(session.EditTurn(3, "x")))
	assert.True(t, appErrors.IsValidationError(session.EditTurn(-1, "x")))
}

func TestHistoryBoundOnUpstreamRequest(t *testing.T) {
	replies := make([]fakeReply, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, fakeReply{text: fmt.Sprintf("reply %d", i)})
	}
	provider := newFakeProvider(replies...)
	session, _ := newTestSession(t, provider)
	_, err := session.Launch(context.Background(), launchRequest(ModeDropIn), nil)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := session.SubmitAction(context.Background(), fmt.Sprintf("action %d", i), nil)
		require.NoError(t, err)
	}

	state := session.State()
	assert.Len(t, state.Transcript, 18)

	requests := provider.Requests()
	last := requests[len(requests)-1].Messages
	require.Len(t, last, 11)
	assert.Equal(t, "system", last[0].Role)
	assert.Equal(t, "action 7", last[10].Content)
}

func TestStreamingForwardsChunksAndParsesAssembledText(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "Dawn breaks. || STATS | Age: 16 | Year: 1990 ||"})
	session, _ := newTestSession(t, provider)

	var chunks []string
	result, err := session.Launch(context.Background(), launchRequest(ModeDropIn), func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)

	assert.Equal(t, "Dawn breaks. || STATS | Age: 16 | Year: 1990 ||", strings.Join(chunks, ""))
	assert.Equal(t, "Dawn breaks. ", result.Parsed.DisplayText)
}

func TestTimelineAndCurrentYear(t *testing.T) {
	session, _ := newTestSession(t, newFakeProvider())
	state := sampleState()
	state.World = testWorld()
	state.CurrentStats = "Age: 30 | Year: 1990 | Loc: Tokyo"
	require.NoError(t, session.Resume(state))

	entries, err := session.Timeline()
	require.NoError(t, err)
	assert.Equal(t, []TimelineEntry{
		{Name: "Origins", Year: 1960, Status: ArcPast},
		{Name: "Academy Arc", Year: 1990, Status: ArcCurrent},
		{Name: "Collapse Arc", Year: 2000, Status: ArcFuture},
	}, entries)

	year, ok := CurrentYear("Age: 7 | Loc: Nowhere")
	assert.True(t, ok)
	assert.Equal(t, 7, year)

	_, ok = CurrentYear("Stats: N/A")
	assert.False(t, ok)
}

func TestExitAndInactiveOperations(t *testing.T) {
	session, _ := newTestSession(t, newFakeProvider())
	require.NoError(t, session.Resume(sampleState()))
	assert.True(t, appErrors.IsConflictError(session.Resume(sampleState())))

	session.Exit()
	assert.Equal(t, StatusIdle, session.Status())

	// 退出后内存中的状态被丢弃
	assert.Nil(t, session.State())
	view := session.View()
	assert.Equal(t, StatusIdle, view.Status)
	assert.Empty(t, view.Turns)
	assert.Empty(t, view.Stats)

	_, err := session.SubmitAction(context.Background(), "hello", nil)
	assert.True(t, appErrors.IsValidationError(err))
	_, err = session.Timeline()
	assert.True(t, appErrors.IsValidationError(err))
}

func TestManualSaveAndView(t *testing.T) {
	session, saves := newTestSession(t, newFakeProvider())
	require.NoError(t, session.Resume(sampleState()))

	slot, err := session.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "autosave_Rin", slot)

	list, err := saves.ListSaves(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	view := session.View()
	assert.Equal(t, "Neo Tokyo", view.World)
	assert.Equal(t, []string{"Age: 16", "Year: 1990"}, view.StatCards)
	require.Len(t, view.Turns, 3)
	assert.Equal(t, "Opening ", view.Turns[1].DisplayHTML)
	assert.Equal(t, "Draw sword", view.Turns[2].DisplayHTML)
	assert.Equal(t, "", view.Turns[0].DisplayHTML)

	director, err := session.DirectorLog()
	require.NoError(t, err)
	assert.Equal(t, "Introduce the rival.", director)
}
