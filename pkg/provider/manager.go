package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/prefs"
	"botcore/pkg/tools"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateConstructed State = iota
	StateInitializing
	StateReady
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Loader makes the adapter for typeID register itself. It reports whether
// it recognized the type string.
type Loader func(typeID string) bool

// lateTerminateTimeout bounds the cleanup of an instance whose constructor
// returned after its deadline.
const lateTerminateTimeout = 10 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLoader sets the hook that loads adapters at construction time.
func WithLoader(l Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithConstructTimeout bounds each constructor call. Zero means no bound.
func WithConstructTimeout(d time.Duration) Option {
	return func(m *Manager) { m.constructTimeout = d }
}

// WithTools shares reg with every chat provider that supports tool calls.
func WithTools(reg *tools.ToolRegistry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.tools = reg
		}
	}
}

// Manager builds the configured providers and tracks the current one per
// category. The lifecycle is NewManager, Initialize, accessors, Terminate.
// Accessors are safe for concurrent use.
type Manager struct {
	entries     []config.ProviderEntry
	settings    config.ProviderSettings
	sttSettings config.STTSettings
	kdbName     string

	database db.Database
	prefs    prefs.Store

	loader           Loader
	loaded           map[string]bool
	log              *slog.Logger
	constructTimeout time.Duration
	tools            *tools.ToolRegistry

	mu       sync.RWMutex
	state    State
	insts    []ChatProvider
	sttInsts []STTProvider
	curr     ChatProvider
	currSTT  STTProvider
}

// NewManager validates cfg and loads the adapters its enabled entries name.
// Two enabled entries with the same id fail with ErrDuplicateID. No
// instance is created until Initialize.
func NewManager(cfg *config.Config, database db.Database, store prefs.Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("provider: nil config")
	}

	m := &Manager{
		entries:     append([]config.ProviderEntry(nil), cfg.Provider...),
		settings:    cfg.ProviderSettings,
		sttSettings: cfg.ProviderSTTSettings,
		kdbName:     cfg.KnowledgeDB.First(),
		database:    database,
		prefs:       store,
		loaded:      make(map[string]bool),
		log:         slog.Default(),
		tools:       tools.NewToolRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "provider")
	if m.settings == nil {
		m.settings = config.ProviderSettings{}
	}

	seen := make(map[string]bool, len(m.entries))
	for _, entry := range m.entries {
		if !entry.Enable {
			continue
		}
		if seen[entry.ID] {
			return nil, &DuplicateIDError{ID: entry.ID}
		}
		seen[entry.ID] = true

		if _, done := m.loaded[entry.Type]; done || m.loader == nil {
			continue
		}
		m.loaded[entry.Type] = m.loader(entry.Type)
	}

	return m, nil
}

// Initialize constructs every enabled entry in configuration order. Entries
// with an unknown type or a failing constructor are logged and skipped.
// It returns an error only when called outside the Constructed state or
// when ctx is canceled mid-pass; in the latter case the instances built so
// far are kept and the manager is Ready.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateConstructed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: initialize called while %s", ErrInvalidState, state)
	}
	m.state = StateInitializing
	m.mu.Unlock()

	currID := m.selectedChatID(ctx)
	sttID := m.sttSettings.ProviderID

	var (
		insts    []ChatProvider
		sttInsts []STTProvider
		curr     ChatProvider
		currSTT  STTProvider
		ctxErr   error
	)

	for _, entry := range m.entries {
		if !entry.Enable {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.log.Error("Provider initialization interrupted", "error", err)
			ctxErr = err
			break
		}

		reg, ok := Resolve(entry.Type)
		if !ok {
			m.reportUnknownType(entry)
			constructionsTotal.WithLabelValues(entry.Type, "unknown_type").Inc()
			continue
		}

		m.log.Info("Loading provider", "id", entry.ID, "type", entry.Type, "category", reg.Category)

		start := time.Now()
		inst, err := m.construct(ctx, entry, reg)
		constructDuration.WithLabelValues(entry.Type).Observe(time.Since(start).Seconds())
		if err != nil {
			result := "failed"
			if errors.Is(err, ErrConstructTimeout) {
				result = "timeout"
			}
			constructionsTotal.WithLabelValues(entry.Type, result).Inc()
			m.log.Error("Failed to load provider", "id", entry.ID, "type", entry.Type, "error", err)
			continue
		}
		constructionsTotal.WithLabelValues(entry.Type, "ok").Inc()

		switch reg.Category {
		case ChatCompletion:
			p := inst.(ChatProvider)
			insts = append(insts, p)
			if entry.ID == currID {
				curr = p
				m.log.Info("Selected chat provider", "id", entry.ID, "source", "preference")
			}
		case SpeechToText:
			p := inst.(STTProvider)
			sttInsts = append(sttInsts, p)
			if entry.ID == sttID {
				currSTT = p
				m.log.Info("Selected speech-to-text provider", "id", entry.ID, "source", "settings")
			}
		}
	}

	if curr == nil && len(insts) > 0 {
		curr = insts[0]
		m.log.Info("Selected chat provider", "id", curr.ID(), "source", "fallback")
	}
	if currSTT == nil && len(sttInsts) > 0 {
		currSTT = sttInsts[0]
		m.log.Info("Selected speech-to-text provider", "id", currSTT.ID(), "source", "fallback")
	}

	if len(insts) == 0 {
		m.log.Warn("No chat completion provider available")
	}
	if m.sttSettings.Enable && currSTT == nil {
		m.log.Warn("Speech-to-text is enabled but no speech-to-text provider is available", "provider_id", sttID)
	}

	activeProviders.WithLabelValues(ChatCompletion.String()).Add(float64(len(insts)))
	activeProviders.WithLabelValues(SpeechToText.String()).Add(float64(len(sttInsts)))

	m.mu.Lock()
	m.insts = insts
	m.sttInsts = sttInsts
	m.curr = curr
	m.currSTT = currSTT
	m.state = StateReady
	m.mu.Unlock()

	m.log.Info("Providers initialized", "chat", len(insts), "stt", len(sttInsts))
	return ctxErr
}

// selectedChatID reads the persisted current chat provider id once.
func (m *Manager) selectedChatID(ctx context.Context) string {
	if m.prefs == nil {
		return ""
	}
	id, ok, err := m.prefs.Get(ctx, prefs.KeyCurrentProvider)
	if err != nil {
		m.log.Warn("Failed to read provider selection", "key", prefs.KeyCurrentProvider, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (m *Manager) reportUnknownType(entry config.ProviderEntry) {
	err := fmt.Errorf("%w: %s", ErrUnknownType, entry.Type)
	if m.loaded[entry.Type] {
		m.log.Error("Adapter module loaded but did not register", "id", entry.ID, "type", entry.Type, "error", err)
		return
	}
	m.log.Error("No adapter module for provider type", "id", entry.ID, "type", entry.Type, "error", err)
}

type constructResult struct {
	inst Provider
	err  error
}

// construct calls the registered constructor in its own goroutine so a
// hung adapter cannot stall the pass past the configured bound. A result
// delivered after the deadline is terminated.
func (m *Manager) construct(ctx context.Context, entry config.ProviderEntry, reg Registration) (Provider, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if m.constructTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, m.constructTimeout)
	}
	defer cancel()

	done := make(chan constructResult, 1)
	go func() {
		var res constructResult
		defer func() {
			if r := recover(); r != nil {
				res = constructResult{err: fmt.Errorf("constructor panicked: %v", r)}
			}
			done <- res
		}()
		res.inst, res.err = m.invoke(cctx, entry, reg)
	}()

	select {
	case res := <-done:
		return res.inst, res.err
	case <-cctx.Done():
		go m.reapLate(entry, done)
		if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrConstructTimeout, m.constructTimeout)
		}
		return nil, cctx.Err()
	}
}

func (m *Manager) invoke(ctx context.Context, entry config.ProviderEntry, reg Registration) (Provider, error) {
	switch reg.Category {
	case ChatCompletion:
		if reg.NewChat == nil {
			return nil, fmt.Errorf("adapter %s has no chat constructor", reg.Type)
		}
		p, err := reg.NewChat(ctx, entry, m.settings, m.database, m.settings.PersistHistory())
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("adapter %s returned no instance", reg.Type)
		}
		if tu, ok := p.(ToolUser); ok {
			tu.SetTools(m.tools)
		}
		return p, nil
	case SpeechToText:
		if reg.NewSTT == nil {
			return nil, fmt.Errorf("adapter %s has no speech-to-text constructor", reg.Type)
		}
		p, err := reg.NewSTT(ctx, entry, m.settings)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("adapter %s returned no instance", reg.Type)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("adapter %s declares unsupported category %s", reg.Type, reg.Category)
	}
}

func (m *Manager) reapLate(entry config.ProviderEntry, done <-chan constructResult) {
	res := <-done
	if res.err != nil || res.inst == nil {
		return
	}
	m.log.Warn("Terminating provider that finished constructing after its deadline", "id", entry.ID, "type", entry.Type)
	ctx, cancel := context.WithTimeout(context.Background(), lateTerminateTimeout)
	defer cancel()
	if err := safeTerminate(ctx, res.inst); err != nil {
		m.log.Error("Failed to terminate late provider", "id", entry.ID, "error", err)
	}
}

// Terminate calls every instance's Terminate once: chat instances in
// sequence order, then speech-to-text instances. A failing hook does not
// stop the others; all failures are joined into the returned error. The
// manager ends Terminated with no instances either way.
func (m *Manager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateTerminated:
		m.mu.Unlock()
		return nil
	case StateInitializing, StateTerminating:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: terminate called while %s", ErrInvalidState, state)
	}
	m.state = StateTerminating
	insts, sttInsts := m.insts, m.sttInsts
	m.mu.Unlock()

	var errs []error
	for _, p := range insts {
		if err := safeTerminate(ctx, p); err != nil {
			terminateErrorsTotal.WithLabelValues(p.Type()).Inc()
			m.log.Error("Failed to terminate provider", "id", p.ID(), "type", p.Type(), "error", err)
			errs = append(errs, fmt.Errorf("terminate %s: %w", p.ID(), err))
		}
	}
	for _, p := range sttInsts {
		if err := safeTerminate(ctx, p); err != nil {
			terminateErrorsTotal.WithLabelValues(p.Type()).Inc()
			m.log.Error("Failed to terminate provider", "id", p.ID(), "type", p.Type(), "error", err)
			errs = append(errs, fmt.Errorf("terminate %s: %w", p.ID(), err))
		}
	}

	activeProviders.WithLabelValues(ChatCompletion.String()).Sub(float64(len(insts)))
	activeProviders.WithLabelValues(SpeechToText.String()).Sub(float64(len(sttInsts)))

	m.mu.Lock()
	m.insts = nil
	m.sttInsts = nil
	m.curr = nil
	m.currSTT = nil
	m.state = StateTerminated
	m.mu.Unlock()

	m.log.Info("Providers terminated", "chat", len(insts), "stt", len(sttInsts), "errors", len(errs))
	return errors.Join(errs...)
}

func safeTerminate(ctx context.Context, p Provider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("terminate panicked: %v", r)
		}
	}()
	return p.Terminate(ctx)
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Insts returns the chat-completion instances in construction order.
// The slice is a copy.
func (m *Manager) Insts() []ChatProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ChatProvider(nil), m.insts...)
}

// STTInsts returns the speech-to-text instances in construction order.
func (m *Manager) STTInsts() []STTProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]STTProvider(nil), m.sttInsts...)
}

// CurrentProvider returns the current chat provider, or nil.
func (m *Manager) CurrentProvider() ChatProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.curr
}

// CurrentSTTProvider returns the current speech-to-text provider, or nil.
func (m *Manager) CurrentSTTProvider() STTProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currSTT
}

// LLMTools is the tool registry shared with the chat providers.
func (m *Manager) LLMTools() *tools.ToolRegistry {
	return m.tools
}

// CurrentKDBName is the first configured knowledge base, or "".
func (m *Manager) CurrentKDBName() string {
	return m.kdbName
}

// STTEnabled reports whether provider_stt_settings enables speech-to-text.
func (m *Manager) STTEnabled() bool {
	return m.sttSettings.Enable
}

// Provider returns the live chat instance with the given id.
func (m *Manager) Provider(id string) (ChatProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.insts {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// SetCurrentProvider makes the chat instance with the given id current and
// persists the choice for the next Initialize. Nothing changes when the
// choice cannot be persisted.
func (m *Manager) SetCurrentProvider(ctx context.Context, id string) error {
	if state := m.State(); state != StateReady {
		return fmt.Errorf("%w: cannot select provider while %s", ErrInvalidState, state)
	}
	p, ok := m.Provider(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}

	if m.prefs != nil {
		if err := m.prefs.Set(ctx, prefs.KeyCurrentProvider, id); err != nil {
			return fmt.Errorf("failed to persist provider selection: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: cannot select provider while %s", ErrInvalidState, m.state)
	}
	m.curr = p
	m.log.Info("Selected chat provider", "id", id, "source", "user")
	return nil
}

// SetCurrentSTTProvider makes the speech-to-text instance with the given id
// current. The choice is not persisted; provider_stt_settings stays the
// source of truth across restarts.
func (m *Manager) SetCurrentSTTProvider(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: cannot select provider while %s", ErrInvalidState, m.state)
	}
	for _, p := range m.sttInsts {
		if p.ID() == id {
			m.currSTT = p
			m.log.Info("Selected speech-to-text provider", "id", id, "source", "user")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
}
