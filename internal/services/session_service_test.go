package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Corphon/SekaiHub/internal/config"
	appErrors "github.com/Corphon/SekaiHub/internal/errors"
	"github.com/Corphon/SekaiHub/internal/llm"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(t *testing.T, completer Completer) (*SessionService, *PresetService) {
	t.Helper()

	worldsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worldsDir, "world_tokyo.json"), []byte(testWorldJSON), 0644))
	worlds, err := NewWorldService(worldsDir)
	require.NoError(t, err)

	presets, err := NewPresetService(t.TempDir())
	require.NoError(t, err)

	store, err := storage.NewFileSaveStore(t.TempDir())
	require.NoError(t, err)
	saves := NewSaveService(store)

	service := NewSessionService(worlds, presets, SessionDeps{
		LLM:          completer,
		Saves:        saves,
		Parser:       NewResponseParser(config.ParseModeStrip),
		HistoryLimit: 15,
		HistoryKeep:  10,
	})
	t.Cleanup(func() {
		service.Close()
		worlds.Close()
		presets.Close()
		saves.Close()
	})
	return service, presets
}

func launchParams() LaunchParams {
	return LaunchParams{
		World:     "Neo Tokyo",
		Character: models.Character{Name: "Rin", Race: "Esper", Alignment: "Heroic", Appearance: "Silver hair"},
		Arc:       "Academy Arc",
		Age:       16,
		Mode:      ModeDropIn,
	}
}

func TestSessionServiceLaunchAndActions(t *testing.T) {
	provider := newFakeProvider(
		fakeReply{text: "Opening. || STATS | Age: 16 | Year: 1990 ||"},
		fakeReply{text: "Next. || EVENT | Met Akira ||"},
	)
	service, presets := newTestSessionService(t, newTestLLMService(provider))
	ctx := context.Background()

	params := launchParams()
	params.SavePreset = true
	outcome, err := service.Launch(ctx, params, nil)
	require.NoError(t, err)
	id := outcome.Session.ID
	assert.Equal(t, StatusActive, outcome.Session.Status)
	assert.Equal(t, []string{id}, service.ListSessions())

	preset, err := presets.LoadPreset("Rin")
	require.NoError(t, err)
	assert.Equal(t, "Silver hair", preset.Appearance)

	outcome, err = service.SubmitAction(ctx, id, "Look around", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Met Akira"}, outcome.Session.Events)

	view, err := service.EditTurn(id, 2, "Look around carefully")
	require.NoError(t, err)
	assert.Equal(t, "Look around carefully", view.Turns[2].Content)

	slot, err := service.Save(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "autosave_Rin", slot)

	timeline, err := service.Timeline(id)
	require.NoError(t, err)
	assert.Equal(t, ArcCurrent, timeline[1].Status)

	require.NoError(t, service.Exit(id))
	_, err = service.GetSession(id)
	assert.True(t, appErrors.IsNotFoundError(err))
}

func TestSessionServiceLaunchErrors(t *testing.T) {
	provider := newFakeProvider(fakeReply{err: errors.New("down")}, fakeReply{err: errors.New("down")})
	service, _ := newTestSessionService(t, newTestLLMService(provider))
	ctx := context.Background()

	params := launchParams()
	params.World = "Atlantis"
	_, err := service.Launch(ctx, params, nil)
	assert.True(t, appErrors.IsNotFoundError(err))

	params = launchParams()
	params.Arc = "Missing"
	_, err = service.Launch(ctx, params, nil)
	assert.True(t, appErrors.IsValidationError(err))
	assert.Empty(t, service.ListSessions())

	outcome, err := service.Launch(ctx, launchParams(), nil)
	assert.True(t, appErrors.IsProviderError(err))
	require.NotNil(t, outcome)
	assert.Equal(t, StatusActive, outcome.Session.Status)
	assert.Len(t, outcome.Session.Turns, 1)
}

func TestSessionServiceInvalidLaunchDoesNotSavePreset(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "Opening."})
	service, presets := newTestSessionService(t, newTestLLMService(provider))
	ctx := context.Background()

	params := launchParams()
	params.Arc = "Nope"
	params.SavePreset = true
	_, err := service.Launch(ctx, params, nil)
	assert.True(t, appErrors.IsValidationError(err))

	params = launchParams()
	params.Mode = "reincarnated"
	params.SavePreset = true
	_, err = service.Launch(ctx, params, nil)
	assert.True(t, appErrors.IsValidationError(err))

	names, err := presets.ListPresets()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, provider.Requests())
}

func TestSessionServiceLoadSave(t *testing.T) {
	provider := newFakeProvider(fakeReply{text: "Opening. || SOCIAL | Name: Akira | Rel: Rival ||"})
	service, _ := newTestSessionService(t, newTestLLMService(provider))
	ctx := context.Background()

	outcome, err := service.Launch(ctx, launchParams(), nil)
	require.NoError(t, err)
	require.NoError(t, service.Exit(outcome.Session.ID))

	view, err := service.LoadSave(ctx, "autosave_Rin")
	require.NoError(t, err)
	assert.NotEqual(t, outcome.Session.ID, view.ID)
	assert.Equal(t, "Rival", view.Socials["Akira"].Rel)
	assert.Len(t, view.Turns, 2)

	_, err = service.LoadSave(ctx, "autosave_Nobody")
	assert.True(t, appErrors.IsNotFoundError(err))
}

// blockingCompleter 在 release 关闭前阻塞补全
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingCompleter) Complete(ctx context.Context, _ []llm.Message, _ ChunkHandler) (*llm.CompletionResponse, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return &llm.CompletionResponse{Text: "Done."}, nil
}

func TestSessionServiceRejectsOverlappingCompletions(t *testing.T) {
	completer := &blockingCompleter{started: make(chan struct{}), release: make(chan struct{})}
	service, _ := newTestSessionService(t, completer)
	ctx := context.Background()

	view, err := service.LoadSave(ctx, "missing")
	require.Error(t, err)
	require.Nil(t, view)

	// 通过存档恢复会话，避免开场请求占用锁
	saves := service.saves
	_, err = saves.Autosave(ctx, sampleState())
	require.NoError(t, err)
	view, err = service.LoadSave(ctx, "autosave_Rin")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := service.Continue(ctx, view.ID, nil)
		done <- err
	}()
	<-completer.started

	_, err = service.SubmitAction(ctx, view.ID, "Hurry", nil)
	assert.True(t, appErrors.IsConflictError(err))

	close(completer.release)
	require.NoError(t, <-done)

	current, err := service.GetSession(view.ID)
	require.NoError(t, err)
	assert.Len(t, current.Turns, 4)
}
