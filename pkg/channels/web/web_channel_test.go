package web

import (
	"context"
	"encoding/base64"
	"fmt"
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
	"botcore/pkg/llm"
	"botcore/pkg/provider"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatStub struct{ *provider.ChatBase }

func (chatStub) TextChat(context.Context, provider.ChatRequest) (*llm.Response, error) {
	return &llm.Response{Text: "ok"}, nil
}

func newChat(id string) chatStub {
	return chatStub{provider.NewChatBase(config.NewProviderEntry(id, "stub_chat", true, nil), nil, nil, false, "m-"+id)}
}

type source struct {
	mu      sync.Mutex
	insts   []provider.ChatProvider
	current provider.ChatProvider
	setErr  error
}

func (s *source) Insts() []provider.ChatProvider           { return s.insts }
func (s *source) CurrentSTTProvider() provider.STTProvider { return nil }
func (s *source) STTEnabled() bool                         { return false }

func (s *source) CurrentProvider() provider.ChatProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *source) SetCurrentProvider(_ context.Context, id string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.insts {
		if p.ID() == id {
			s.current = p
			return nil
		}
	}
	return fmt.Errorf("%w: %s", provider.ErrProviderNotFound, id)
}

// echoContext answers every message through the channel under test.
type echoContext struct {
	ch  *WebChannel
	got chan *api.UnifiedMessage
}

func (e *echoContext) SendReply(session api.SessionContext, content string) error {
	return e.ch.Send(session, content)
}

func (e *echoContext) OnMessage(_ string, msg *api.UnifiedMessage) {
	e.got <- msg
	_ = e.SendReply(msg.Session, "echo: "+msg.Content)
}

func newTestChannel(t *testing.T, metrics bool) (*WebChannel, *source, *echoContext, *httptest.Server) {
	a, b := newChat("gpt"), newChat("local")
	src := &source{insts: []provider.ChatProvider{a, b}, current: a}
	ch := NewWebChannel(WebConfig{Metrics: metrics}, src, t.TempDir())
	ctx := &echoContext{ch: ch, got: make(chan *api.UnifiedMessage, 4)}
	ts := httptest.NewServer(ch.Handler(ctx))
	t.Cleanup(ts.Close)
	return ch, src, ctx, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutgoingMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out OutgoingMessage
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWebSocketChat(t *testing.T) {
	_, _, ctx, ts := newTestChannel(t, false)
	conn := dial(t, ts)

	hello := readFrame(t, conn)
	assert.Equal(t, "session", hello.Type)
	require.NotEmpty(t, hello.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("plain text")))
	msg := <-ctx.got
	assert.Equal(t, "plain text", msg.Content)
	assert.Equal(t, "web", msg.Session.ChannelID)
	assert.Equal(t, hello.ID, msg.Session.ChatID)

	reply := readFrame(t, conn)
	assert.Equal(t, OutgoingMessage{Type: "reply", Text: "echo: plain text"}, reply)
}

func TestWebSocketUploads(t *testing.T) {
	_, _, ctx, ts := newTestChannel(t, false)
	conn := dial(t, ts)
	readFrame(t, conn)

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	frame := map[string]any{
		"text":   "what is this",
		"images": []map[string]string{{"name": "a.png", "data": base64.StdEncoding.EncodeToString(png)}},
		"audio":  map[string]string{"name": "v.ogg", "mime": "audio/ogg", "data": base64.StdEncoding.EncodeToString([]byte("OggS"))},
	}
	require.NoError(t, conn.WriteJSON(frame))

	msg := <-ctx.got
	require.Len(t, msg.Files, 2)
	assert.Equal(t, "image/png", msg.Files[0].MimeType)
	assert.Equal(t, "audio/ogg", msg.Files[1].MimeType)
	data, err := os.ReadFile(msg.Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestWebSocketResumeSession(t *testing.T) {
	_, _, _, ts := newTestChannel(t, false)
	const id = "6f1c2a43-8a1e-4cb2-9a51-3f7d0e6c1b22"

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, id, readFrame(t, conn).ID)
}

func TestSendToUnknownSession(t *testing.T) {
	ch := NewWebChannel(WebConfig{}, &source{}, t.TempDir())
	err := ch.Send(api.SessionContext{UserID: "nobody"}, "x")
	assert.ErrorContains(t, err, "not connected")
}

func TestProvidersAPI(t *testing.T) {
	_, src, _, ts := newTestChannel(t, false)

	res, err := http.Get(ts.URL + "/api/providers")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var list providersResponse
	require.NoError(t, jsoniter.NewDecoder(res.Body).Decode(&list))
	assert.Equal(t, "gpt", list.Current)
	assert.Equal(t, []providerView{
		{ID: "gpt", Type: "stub_chat", Model: "m-gpt"},
		{ID: "local", Type: "stub_chat", Model: "m-local"},
	}, list.Providers)

	post := func(body string) int {
		res, err := http.Post(ts.URL+"/api/providers/current", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
		return res.StatusCode
	}

	assert.Equal(t, http.StatusOK, post(`{"id":"local"}`))
	assert.Equal(t, "local", src.CurrentProvider().ID())
	assert.Equal(t, http.StatusNotFound, post(`{"id":"ghost"}`))
	assert.Equal(t, http.StatusBadRequest, post(`not json`))

	src.setErr = provider.ErrInvalidState
	assert.Equal(t, http.StatusConflict, post(`{"id":"gpt"}`))
}

func postCurrent(t *testing.T, ts *httptest.Server, header http.Header, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/providers/current", strings.NewReader(body))
	require.NoError(t, err)
	req.Header = header
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return res.StatusCode
}

func TestProvidersAPIRejectsCrossOrigin(t *testing.T) {
	_, src, _, ts := newTestChannel(t, false)

	status := postCurrent(t, ts, http.Header{"Origin": {"https://evil.example"}}, `{"id":"local"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "gpt", src.CurrentProvider().ID())

	// The page served from the same host may switch.
	status = postCurrent(t, ts, http.Header{"Origin": {ts.URL}}, `{"id":"local"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "local", src.CurrentProvider().ID())
}

func TestProvidersAPIAllowedOrigins(t *testing.T) {
	src := &source{insts: []provider.ChatProvider{newChat("gpt"), newChat("local")}}
	ch := NewWebChannel(WebConfig{AllowedOrigins: []string{"https://ui.example"}}, src, t.TempDir())
	ts := httptest.NewServer(ch.Handler(&echoContext{ch: ch, got: make(chan *api.UnifiedMessage, 1)}))
	defer ts.Close()

	assert.Equal(t, http.StatusOK, postCurrent(t, ts, http.Header{"Origin": {"https://ui.example"}}, `{"id":"local"}`))
	assert.Equal(t, http.StatusForbidden, postCurrent(t, ts, http.Header{"Origin": {"https://other.example"}}, `{"id":"gpt"}`))
}

func TestProvidersAPIToken(t *testing.T) {
	a := newChat("gpt")
	src := &source{insts: []provider.ChatProvider{a, newChat("local")}, current: a}
	ch := NewWebChannel(WebConfig{Token: "s3cret"}, src, t.TempDir())
	ts := httptest.NewServer(ch.Handler(&echoContext{ch: ch, got: make(chan *api.UnifiedMessage, 1)}))
	defer ts.Close()

	assert.Equal(t, http.StatusUnauthorized, postCurrent(t, ts, http.Header{}, `{"id":"local"}`))
	assert.Equal(t, http.StatusUnauthorized, postCurrent(t, ts, http.Header{"Authorization": {"Bearer wrong"}}, `{"id":"local"}`))
	assert.Equal(t, "gpt", src.CurrentProvider().ID())

	assert.Equal(t, http.StatusOK, postCurrent(t, ts, http.Header{"Authorization": {"Bearer s3cret"}}, `{"id":"local"}`))
	assert.Equal(t, "local", src.CurrentProvider().ID())

	res, err := http.Get(ts.URL + "/api/providers")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, _, ts := newTestChannel(t, false)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, res, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {ts.URL}})
	require.NoError(t, err)
	conn.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, _, ts := newTestChannel(t, true)
	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	_, _, _, plain := newTestChannel(t, false)
	res2, err := http.Get(plain.URL + "/metrics")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}

func TestStartStop(t *testing.T) {
	ch := NewWebChannel(WebConfig{Host: "127.0.0.1", Port: 0}, &source{}, t.TempDir())
	require.NoError(t, ch.Start(&echoContext{ch: ch, got: make(chan *api.UnifiedMessage, 1)}))
	require.NotEmpty(t, ch.Addr())

	res, err := http.Get("http://" + ch.Addr() + "/api/providers")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, ch.Stop())
}

func TestFactory(t *testing.T) {
	f, ok := channels.GetChannelFactory("web")
	require.True(t, ok)

	ch, err := f.Create(jsoniter.RawMessage(`{"port": 8081}`), channels.Deps{Providers: &source{}})
	require.NoError(t, err)
	assert.Equal(t, 8081, ch.(*WebChannel).config.Port)

	ch, err = f.Create(jsoniter.RawMessage(`{}`), channels.Deps{Providers: &source{}})
	require.NoError(t, err)
	assert.Equal(t, defaultPort, ch.(*WebChannel).config.Port)

	_, err = f.Create(jsoniter.RawMessage(`{}`), channels.Deps{})
	assert.Error(t, err)
}
