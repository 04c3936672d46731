package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/monitor"
)

const (
	testChatType = "test_chat_completion"
	testSTTType  = "test_stt"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) has(e string) bool {
	for _, got := range r.list() {
		if got == e {
			return true
		}
	}
	return false
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return monitor.NewLogger(buf, "debug"), buf
}

// fakeOpts are the adapter-specific fields understood by the test adapters.
type fakeOpts struct {
	Fail    bool   `json:"fail"`
	Panic   bool   `json:"panic"`
	Block   bool   `json:"block"`
	TermErr string `json:"term_err"`
	Model   string `json:"model"`
}

type fakeChat struct {
	*ChatBase
	rec     *recorder
	termErr error
}

func (f *fakeChat) TextChat(ctx context.Context, req ChatRequest) (*llm.Response, error) {
	conv, user, err := f.Conversation(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &llm.Response{
		Text:         fmt.Sprintf("%s#%d: %s", f.ID(), len(conv), req.Prompt),
		Model:        f.Model(),
		FinishReason: llm.StopReasonStop,
	}
	f.Record(ctx, req, user, resp)
	return resp, nil
}

func (f *fakeChat) Terminate(context.Context) error {
	f.rec.add("terminate:" + f.ID())
	return f.termErr
}

type fakeSTT struct {
	Base
	rec     *recorder
	termErr error
}

func (f *fakeSTT) Transcribe(_ context.Context, audioPath string) (string, error) {
	return "transcript of " + filepath.Base(audioPath), nil
}

func (f *fakeSTT) Terminate(context.Context) error {
	f.rec.add("terminate:" + f.ID())
	return f.termErr
}

func fakeChatConstructor(rec *recorder, release <-chan struct{}) ChatConstructor {
	return func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (ChatProvider, error) {
		var o fakeOpts
		if err := entry.Decode(&o); err != nil {
			return nil, err
		}
		rec.add("construct:" + entry.ID)
		switch {
		case o.Fail:
			return nil, errors.New("bad credentials")
		case o.Panic:
			panic("adapter exploded")
		case o.Block:
			<-release
		}
		p := &fakeChat{ChatBase: NewChatBase(entry, settings, database, persist, o.Model), rec: rec}
		if o.TermErr != "" {
			p.termErr = errors.New(o.TermErr)
		}
		return p, nil
	}
}

func fakeSTTConstructor(rec *recorder) STTConstructor {
	return func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings) (STTProvider, error) {
		var o fakeOpts
		if err := entry.Decode(&o); err != nil {
			return nil, err
		}
		rec.add("construct:" + entry.ID)
		if o.Fail {
			return nil, errors.New("no audio device")
		}
		p := &fakeSTT{Base: NewBase(entry), rec: rec}
		if o.TermErr != "" {
			p.termErr = errors.New(o.TermErr)
		}
		return p, nil
	}
}

func unregister(t *testing.T, typeID string) {
	t.Helper()
	t.Cleanup(func() {
		registryMu.Lock()
		defer registryMu.Unlock()
		delete(registry, typeID)
	})
}

// setupAdapters registers the test adapters for the duration of t.
func setupAdapters(t *testing.T) (*recorder, chan struct{}) {
	t.Helper()
	rec := &recorder{}
	release := make(chan struct{})
	RegisterChat(testChatType, fakeChatConstructor(rec, release))
	RegisterSTT(testSTTType, fakeSTTConstructor(rec))
	unregister(t, testChatType)
	unregister(t, testSTTType)
	return rec, release
}

func chatEntry(id string, enable bool, extra map[string]any) config.ProviderEntry {
	return config.NewProviderEntry(id, testChatType, enable, extra)
}

func sttEntry(id string, enable bool, extra map[string]any) config.ProviderEntry {
	return config.NewProviderEntry(id, testSTTType, enable, extra)
}

func ids[P Provider](ps []P) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID())
	}
	return out
}

type failingStore struct {
	getErr error
	setErr error
}

func (f failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, f.getErr
}

func (f failingStore) Set(context.Context, string, string) error {
	return f.setErr
}

func (f failingStore) Delete(context.Context, string) error { return nil }
func (f failingStore) Close() error                          { return nil }
