package capability

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransient_WrapsProviderErrors(t *testing.T) {
	base := errors.New("503 from upstream")
	err := Transient("calendar.list", base)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "calendar.list", te.Op)
	require.ErrorIs(t, err, base)
}

func TestTransient_KeepsSentinels(t *testing.T) {
	require.Nil(t, Transient("x", nil))
	require.Same(t, ErrAuthRequired, Transient("x", ErrAuthRequired))

	wrapped := fmt.Errorf("tts: %w", ErrCancelled)
	require.Equal(t, wrapped, Transient("x", wrapped))
}

func TestConfigurationError(t *testing.T) {
	err := fmt.Errorf("start: %w", &ConfigurationError{Missing: []string{"ELEVENLABS_AGENT_ID", "ELEVENLABS_API_KEY"}})
	require.True(t, IsConfiguration(err))
	require.Contains(t, err.Error(), "ELEVENLABS_AGENT_ID, ELEVENLABS_API_KEY")
	require.False(t, IsConfiguration(errors.New("other")))
}
