package provider

import (
	"context"
	"testing"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/prefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorReloadSwapsManagers(t *testing.T) {
	rec, _ := setupAdapters(t)
	logger, _ := testLogger()
	s := NewSupervisor(db.NewMemory(), prefs.NewMemory(), WithLogger(logger))

	assert.Nil(t, s.Manager())
	assert.Nil(t, s.CurrentProvider())
	assert.Empty(t, s.Insts())
	assert.ErrorIs(t, s.SetCurrentProvider(context.Background(), "a"), ErrInvalidState)

	first := &config.Config{Provider: []config.ProviderEntry{chatEntry("a", true, nil)}}
	require.NoError(t, s.Reload(context.Background(), first))
	firstManager := s.Manager()
	assert.Equal(t, "a", s.CurrentProvider().ID())

	second := &config.Config{
		Provider: []config.ProviderEntry{
			chatEntry("b", true, nil),
			chatEntry("c", true, nil),
			sttEntry("w", true, nil),
		},
		ProviderSTTSettings: config.STTSettings{Enable: true},
	}
	require.NoError(t, s.Reload(context.Background(), second))

	assert.Equal(t, StateTerminated, firstManager.State())
	assert.True(t, rec.has("terminate:a"))
	assert.Equal(t, []string{"b", "c"}, ids(s.Insts()))
	assert.Equal(t, "w", s.CurrentSTTProvider().ID())
	assert.True(t, s.STTEnabled())

	require.NoError(t, s.SetCurrentProvider(context.Background(), "c"))
	assert.Equal(t, "c", s.CurrentProvider().ID())
}

func TestSupervisorRejectedReloadKeepsCurrent(t *testing.T) {
	rec, _ := setupAdapters(t)
	s := NewSupervisor(db.NewMemory(), prefs.NewMemory())

	require.NoError(t, s.Reload(context.Background(), &config.Config{Provider: []config.ProviderEntry{chatEntry("a", true, nil)}}))
	live := s.Manager()

	err := s.Reload(context.Background(), &config.Config{Provider: []config.ProviderEntry{
		chatEntry("dup", true, nil),
		chatEntry("dup", true, nil),
	}})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Same(t, live, s.Manager())
	assert.Equal(t, StateReady, live.State())
	assert.False(t, rec.has("terminate:a"))
}

func TestSupervisorClose(t *testing.T) {
	rec, _ := setupAdapters(t)
	s := NewSupervisor(db.NewMemory(), prefs.NewMemory())

	require.NoError(t, s.Close(context.Background()))

	require.NoError(t, s.Reload(context.Background(), &config.Config{Provider: []config.ProviderEntry{chatEntry("a", true, nil)}}))
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, rec.has("terminate:a"))
	assert.Nil(t, s.Manager())
	assert.Nil(t, s.CurrentSTTProvider())
	assert.False(t, s.STTEnabled())
}
