package transcript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppend_DropsBlank(t *testing.T) {
	tr := New()

	_, ok := tr.Append(RoleUser, "   ")
	require.False(t, ok)
	_, ok = tr.Append(RoleAgent, "")
	require.False(t, ok)
	require.Equal(t, 0, tr.Len())
}

func TestAppend_OrderAndIDs(t *testing.T) {
	tr := New()
	first, ok := tr.Append(RoleUser, "hello")
	require.True(t, ok)
	second, _ := tr.Append(RoleAgent, "hi there")

	turns := tr.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "hello", turns[0].Content)
	require.Equal(t, RoleAgent, turns[1].Role)
	require.NotEqual(t, first.ID, second.ID)
	require.Less(t, first.ID, second.ID)
}

func TestTurns_ReturnsCopy(t *testing.T) {
	tr := New()
	tr.Append(RoleUser, "one")

	turns := tr.Turns()
	turns[0].Content = "changed"
	require.Equal(t, "one", tr.Turns()[0].Content)
}

func TestAppend_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Append(RoleAgent, "x")
		}()
	}
	wg.Wait()
	require.Equal(t, 50, tr.Len())
}

func TestRoleFromSource(t *testing.T) {
	require.Equal(t, RoleUser, RoleFromSource("user"))
	require.Equal(t, RoleAgent, RoleFromSource("ai"))
	require.Equal(t, RoleAgent, RoleFromSource(""))
}

func TestFormat(t *testing.T) {
	tr := New()
	tr.Append(RoleUser, "I baked bread")
	tr.Append(RoleAgent, "Lovely!")
	require.Equal(t, "user: I baked bread\nagent: Lovely!", Format(tr.Turns()))
}
