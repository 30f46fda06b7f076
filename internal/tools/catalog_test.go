package tools

import (
	"context"
	"errors"
	"testing"

	"granny-companion/internal/capability"

	"github.com/stretchr/testify/require"
)

func TestCatalog_OmitsToolsWithoutProviders(t *testing.T) {
	r, err := NewDefault(Deps{Highlight: &fakeHighlighter{}})
	require.NoError(t, err)
	require.Equal(t, []string{"clear_highlight"}, r.Names())
}

func TestCatalog_FullSet(t *testing.T) {
	r, err := NewDefault(Deps{
		Screen:    &fakeScreen{},
		Highlight: &fakeHighlighter{},
		System:    &fakeSystem{},
		Calendar:  &fakeCalendar{},
		Mail:      &fakeMailbox{},
		Account:   &fakeAccount{},
		Store:     &fakeStore{},
	})
	require.NoError(t, err)
	require.Len(t, r.Names(), 21)
	for _, name := range []string{"view_screen", "find_and_highlight", "launch_app", "get_today_agenda", "reply_to_email", "connect_google_account"} {
		_, ok := r.Lookup(name)
		require.True(t, ok, name)
	}
}

func TestViewScreen(t *testing.T) {
	screen := &fakeScreen{description: "fresh capture", answer: "a blue button"}
	r, err := NewDefault(Deps{Screen: screen})
	require.NoError(t, err)

	t.Run("question analyzes fresh", func(t *testing.T) {
		ctx := WithScreenContext(context.Background(), "cached")
		res := r.Dispatch(ctx, Invocation{Name: "view_screen", Params: map[string]any{"question": "what color?"}})
		require.Equal(t, "a blue button", res.Text)
		require.Equal(t, []string{"what color?"}, screen.questions)
	})

	t.Run("uses cached context", func(t *testing.T) {
		ctx := WithScreenContext(context.Background(), "cached")
		res := r.Dispatch(ctx, Invocation{Name: "view_screen"})
		require.Equal(t, "cached", res.Text)
		require.Equal(t, 0, screen.captures)
	})

	t.Run("captures without cache", func(t *testing.T) {
		res := r.Dispatch(context.Background(), Invocation{Name: "view_screen"})
		require.Equal(t, "fresh capture", res.Text)
		require.Equal(t, 1, screen.captures)
	})
}

func TestViewScreen_FailureApologizes(t *testing.T) {
	r, err := NewDefault(Deps{Screen: &fakeScreen{err: errors.New("no permission")}})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "view_screen"})
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, "Unable to analyze screen at this moment.", res.Text)
}

func TestFindAndHighlight(t *testing.T) {
	hl := &fakeHighlighter{}
	screen := &fakeScreen{location: capability.Location{
		Found:       true,
		Box:         capability.Box{X: 10, Y: 20, Width: 100, Height: 30},
		Description: "Click the blue Send button",
	}}
	r, err := NewDefault(Deps{Screen: screen, Highlight: hl})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "find_and_highlight", Params: map[string]any{"element": "send button"}})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Contains(t, res.Text, "Found and highlighted")
	require.Len(t, hl.shown, 1)
	require.Equal(t, 100.0, hl.shown[0].Width)
	require.Equal(t, "send button", hl.shown[0].Label)
}

func TestFindAndHighlight_NotFound(t *testing.T) {
	hl := &fakeHighlighter{}
	screen := &fakeScreen{location: capability.Location{Found: false, Description: "The page is still loading."}}
	r, err := NewDefault(Deps{Screen: screen, Highlight: hl})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "find_and_highlight", Params: map[string]any{"element": "login"}})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Contains(t, res.Text, `Could not find "login"`)
	require.Contains(t, res.Text, "still loading")
	require.Empty(t, hl.shown)
}

func TestLaunchApp(t *testing.T) {
	sys := &fakeSystem{}
	r, err := NewDefault(Deps{System: sys})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "launch_app", Params: map[string]any{"app": "Safari"}})
	require.Equal(t, "Launched Safari.", res.Text)
	require.Equal(t, []string{"Safari"}, sys.launched)

	sys.err = errors.New("application not found")
	res = r.Dispatch(context.Background(), Invocation{Name: "launch_app", Params: map[string]any{"app": "Nope"}})
	require.Equal(t, "Failed to launch Nope: application not found", res.Text)
}

func TestSystemCommand_Disabled(t *testing.T) {
	r, err := NewDefault(Deps{System: &fakeSystem{output: "secret"}})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "system_command", Params: map[string]any{"command": "ls"}})
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Contains(t, res.Text, "turned off")
}

func TestSystemCommand_Enabled(t *testing.T) {
	r, err := NewDefault(Deps{System: &fakeSystem{output: "file.txt\n"}, AllowShell: true})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{Name: "system_command", Params: map[string]any{"command": "ls"}})
	require.Equal(t, "file.txt\n", res.Text)
}

func TestRelationshipNudge(t *testing.T) {
	store := &fakeStore{}
	r, err := NewDefault(Deps{Store: store})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), Invocation{
		Name:   "trigger_relationship_nudge",
		Params: map[string]any{"type": "update", "title": "Baked bread", "message": "She baked bread today", "context": "kitchen"},
	})
	require.Equal(t, "Notification sent successfully to your grandson.", res.Text)
	require.Len(t, store.nudges, 1)
	require.Equal(t, capability.NudgeUpdate, store.nudges[0].Type)
	require.Equal(t, capability.NudgeStatusPending, store.nudges[0].Status)

	store.err = errors.New("db locked")
	res = r.Dispatch(context.Background(), Invocation{
		Name:   "trigger_relationship_nudge",
		Params: map[string]any{"type": "alert", "title": "t", "message": "m"},
	})
	require.Equal(t, "Failed to send notification.", res.Text)
}
