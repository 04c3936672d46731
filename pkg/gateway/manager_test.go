package gateway

import (
	"errors"
	"sync"
	"testing"

	"botcore/pkg/api"
	"botcore/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	id       string
	startErr error
	stopErr  error

	mu      sync.Mutex
	ctx     api.ChannelContext
	sent    []string
	stopped bool
}

func (s *stubChannel) ID() string { return s.id }

func (s *stubChannel) Start(ctx api.ChannelContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startErr
}

func (s *stubChannel) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.stopErr
}

func (s *stubChannel) Send(_ api.SessionContext, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return nil
}

func TestGatewayRoutesMessagesAndReplies(t *testing.T) {
	g := NewGatewayManager()
	web := &stubChannel{id: "web"}
	tg := &stubChannel{id: "telegram"}
	g.Register(web)
	g.Register(tg)
	assert.Equal(t, []string{"web", "telegram"}, g.ChannelIDs())

	var got []*api.UnifiedMessage
	g.SetMessageHandler(func(msg *api.UnifiedMessage) {
		got = append(got, msg)
		require.NoError(t, g.SendReply(msg.Session, "echo: "+msg.Content))
	})
	require.NoError(t, g.StartAll())
	require.NotNil(t, tg.ctx)

	tg.ctx.OnMessage("telegram", &api.UnifiedMessage{
		Session: api.SessionContext{ChannelID: "telegram", ChatID: "42"},
		Content: "hi",
	})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"echo: hi"}, tg.sent)
	assert.Empty(t, web.sent)

	err := g.SendReply(api.SessionContext{ChannelID: "line"}, "x")
	assert.ErrorContains(t, err, "channel line not found")
}

func TestGatewayStartStopErrors(t *testing.T) {
	g := NewGatewayManager()
	bad := &stubChannel{id: "bad", startErr: errors.New("port in use"), stopErr: errors.New("stuck")}
	good := &stubChannel{id: "good"}
	g.Register(bad)
	g.Register(good)

	err := g.StartAll()
	assert.ErrorContains(t, err, "port in use")
	assert.Nil(t, good.ctx)

	err = g.StopAll()
	assert.ErrorContains(t, err, "stuck")
	assert.True(t, good.stopped)
}

type tap struct{ msgs []monitor.MonitorMessage }

func (t *tap) Start() error                         { return nil }
func (t *tap) Stop() error                          { return nil }
func (t *tap) OnMessage(msg monitor.MonitorMessage) { t.msgs = append(t.msgs, msg) }

func TestGatewayFeedsMonitor(t *testing.T) {
	g := NewGatewayManager()
	g.Register(&stubChannel{id: "web"})
	m := &tap{}
	g.SetMonitor(m)
	g.SetMessageHandler(func(msg *api.UnifiedMessage) {
		_ = g.SendReply(msg.Session, "pong")
	})

	g.OnMessage("web", &api.UnifiedMessage{Session: api.SessionContext{ChannelID: "web", Username: "ann"}, Content: "ping"})

	require.Len(t, m.msgs, 2)
	assert.Equal(t, monitor.TypeUser, m.msgs[0].MessageType)
	assert.Equal(t, "ping", m.msgs[0].Content)
	assert.Equal(t, monitor.TypeAssistant, m.msgs[1].MessageType)
	assert.Equal(t, "pong", m.msgs[1].Content)
}

func TestGatewayWithoutHandler(t *testing.T) {
	g := NewGatewayManager()
	assert.NotPanics(t, func() {
		g.OnMessage("web", &api.UnifiedMessage{Content: "dropped"})
	})
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "telegram:42", api.SessionContext{ChannelID: "telegram", ChatID: "42", UserID: "7"}.Key())
}
