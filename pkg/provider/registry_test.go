package provider

import (
	"context"
	"testing"

	"botcore/pkg/config"
	"botcore/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLastRegistrationWins(t *testing.T) {
	const typeID = "test_registry_overwrite"
	unregister(t, typeID)

	_, ok := Resolve(typeID)
	require.False(t, ok)

	RegisterChat(typeID, func(context.Context, config.ProviderEntry, config.ProviderSettings, db.Database, bool) (ChatProvider, error) {
		return nil, nil
	})
	reg, ok := Resolve(typeID)
	require.True(t, ok)
	assert.Equal(t, ChatCompletion, reg.Category)
	assert.NotNil(t, reg.NewChat)
	assert.Nil(t, reg.NewSTT)

	RegisterSTT(typeID, func(context.Context, config.ProviderEntry, config.ProviderSettings) (STTProvider, error) {
		return nil, nil
	})
	reg, ok = Resolve(typeID)
	require.True(t, ok)
	assert.Equal(t, SpeechToText, reg.Category)
	assert.Nil(t, reg.NewChat)
	assert.NotNil(t, reg.NewSTT)

	assert.Contains(t, RegisteredTypes(), typeID)
}

func TestRegisteredTypesSorted(t *testing.T) {
	unregister(t, "test_zz")
	unregister(t, "test_aa")
	Register(Registration{Type: "test_zz", Category: ChatCompletion})
	Register(Registration{Type: "test_aa", Category: ChatCompletion})

	types := RegisteredTypes()
	assert.IsNonDecreasing(t, types)
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "chat_completion", ChatCompletion.String())
	assert.Equal(t, "speech_to_text", SpeechToText.String())
	assert.Equal(t, "category(9)", Category(9).String())
}

func TestBaseTerminateIsNoop(t *testing.T) {
	b := NewBase(config.NewProviderEntry("x", "t", true, nil))
	assert.Equal(t, "x", b.ID())
	assert.Equal(t, "t", b.Type())
	assert.NoError(t, b.Terminate(context.Background()))
}
