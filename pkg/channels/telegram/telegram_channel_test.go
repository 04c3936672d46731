package telegram

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"botcore/pkg/api"
	"botcore/pkg/channels"
	"botcore/pkg/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "123:abc"

// fakeBotAPI serves the few Bot API methods the channel uses.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, result string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":`+result+`}`)
	}
	mux.HandleFunc("/bot"+token+"/getMe", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"id":1,"is_bot":true,"first_name":"Bot","username":"test_bot"}`)
	})
	mux.HandleFunc("/bot"+token+"/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.sent = append(f.sent, r.FormValue("text"))
		f.mu.Unlock()
		reply(w, `{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}`)
	})
	mux.HandleFunc("/bot"+token+"/getFile", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.FormValue("file_id") {
		case "voice-1":
			reply(w, `{"file_id":"voice-1","file_unique_id":"u1","file_path":"voice/file_1.oga"}`)
		case "photo-1":
			reply(w, `{"file_id":"photo-1","file_unique_id":"u2","file_path":"photos/file_2.jpg"}`)
		case "photo-2":
			reply(w, `{"file_id":"photo-2","file_unique_id":"u3","file_path":"photos/file_3.jpg"}`)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`)
		}
	})
	mux.HandleFunc("/file/bot"+token+"/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".oga") {
			_, _ = io.WriteString(w, "OggS-voice")
			return
		}
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'})
	})
	return mux
}

func (f *fakeBotAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type inbox struct{ got chan *api.UnifiedMessage }

func (inbox) SendReply(api.SessionContext, string) error { return nil }

func (i inbox) OnMessage(_ string, msg *api.UnifiedMessage) { i.got <- msg }

func (i inbox) next(t *testing.T) *api.UnifiedMessage {
	select {
	case m := <-i.got:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func newTestChannel(t *testing.T, limit int) (*TelegramChannel, *fakeBotAPI) {
	fake := &fakeBotAPI{}
	ts := httptest.NewServer(fake.handler(t))
	t.Cleanup(ts.Close)

	ch, err := NewTelegramChannel(TelegramConfig{
		Token:        token,
		APIEndpoint:  ts.URL + "/bot%s/%s",
		FileEndpoint: ts.URL + "/file/bot%s/%s",
	}, limit, 5000, t.TempDir())
	require.NoError(t, err)
	ch.groupDelay = 50 * time.Millisecond
	t.Cleanup(func() { ch.Stop() })
	return ch, fake
}

func TestSendSplitsLongMessages(t *testing.T) {
	ch, fake := newTestChannel(t, 4)

	require.NoError(t, ch.Send(api.SessionContext{ChatID: "42"}, "abcdefghij"))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, fake.messages())

	assert.Error(t, ch.Send(api.SessionContext{ChatID: "not-a-number"}, "x"))
}

func TestHandleTextMessage(t *testing.T) {
	ch, _ := newTestChannel(t, 100)
	box := inbox{got: make(chan *api.UnifiedMessage, 1)}

	ch.handleMessage(box, &tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: 42},
		From: &tgbotapi.User{ID: 7, UserName: "ann"},
	})

	msg := box.next(t)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, api.SessionContext{ChannelID: "telegram", ChatID: "42", UserID: "7", Username: "ann"}, msg.Session)
}

func TestHandleVoiceMessage(t *testing.T) {
	ch, _ := newTestChannel(t, 100)
	box := inbox{got: make(chan *api.UnifiedMessage, 1)}

	ch.handleMessage(box, &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 42},
		Voice: &tgbotapi.Voice{FileID: "voice-1"},
	})

	msg := box.next(t)
	require.Len(t, msg.Files, 1)
	assert.Equal(t, "audio/ogg", msg.Files[0].MimeType)
	data, err := os.ReadFile(msg.Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "OggS-voice", string(data))
}

func TestHandleMediaGroup(t *testing.T) {
	ch, _ := newTestChannel(t, 100)
	box := inbox{got: make(chan *api.UnifiedMessage, 1)}
	chat := &tgbotapi.Chat{ID: 42}

	ch.handleMessage(box, &tgbotapi.Message{Chat: chat, MediaGroupID: "g1", Caption: "two cats",
		Photo: []tgbotapi.PhotoSize{{FileID: "photo-1"}}})
	ch.handleMessage(box, &tgbotapi.Message{Chat: chat, MediaGroupID: "g1",
		Photo: []tgbotapi.PhotoSize{{FileID: "photo-2"}}})
	ch.handleMessage(box, &tgbotapi.Message{Chat: chat, MediaGroupID: "g1",
		Photo: []tgbotapi.PhotoSize{{FileID: "missing"}}})

	msg := box.next(t)
	assert.Equal(t, "two cats", msg.Content)
	require.Len(t, msg.Files, 2)
	for _, f := range msg.Files {
		assert.Equal(t, "image/jpeg", f.MimeType)
	}
}

func TestFactory(t *testing.T) {
	f, ok := channels.GetChannelFactory("telegram")
	require.True(t, ok)

	_, err := f.Create(jsoniter.RawMessage(`{}`), channels.Deps{System: config.DefaultSystemConfig()})
	assert.ErrorContains(t, err, "missing telegram token")

	_, err = f.Create(jsoniter.RawMessage(`[`), channels.Deps{})
	assert.Error(t, err)
}
