package whisper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"botcore/pkg/config"
	"botcore/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	var gotModel, gotLanguage string
	var gotAudio []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		gotAudio, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"hello there"}`)
	}))
	defer ts.Close()

	audio := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(audio, []byte("OggS-fake"), 0o644))

	entry := config.NewProviderEntry("whisper", Type, true, map[string]any{
		"key":      []string{"sk-test"},
		"api_base": ts.URL + "/",
		"language": "en",
	})
	p, err := New(entry)
	require.NoError(t, err)

	text, err := p.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, defaultModel, gotModel)
	assert.Equal(t, "en", gotLanguage)
	assert.Equal(t, []byte("OggS-fake"), gotAudio)

	require.NoError(t, p.Terminate(context.Background()))
}

func TestTranscribeMissingFile(t *testing.T) {
	entry := config.NewProviderEntry("whisper", Type, true, map[string]any{"key": []string{"k"}})
	p, err := New(entry)
	require.NoError(t, err)

	_, err = p.Transcribe(context.Background(), filepath.Join(t.TempDir(), "absent.wav"))
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	Register()
	reg, ok := provider.Resolve(Type)
	require.True(t, ok)
	assert.Equal(t, provider.SpeechToText, reg.Category)
}
