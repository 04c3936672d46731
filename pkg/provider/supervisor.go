package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/prefs"
)

// Supervisor owns the live Manager and replaces it on configuration
// reload. Readers always see a fully initialized Manager.
type Supervisor struct {
	database db.Database
	prefs    prefs.Store
	opts     []Option
	log      *slog.Logger

	mu      sync.Mutex // serializes Reload and Close
	current atomic.Pointer[Manager]
}

func NewSupervisor(database db.Database, store prefs.Store, opts ...Option) *Supervisor {
	return &Supervisor{
		database: database,
		prefs:    store,
		opts:     opts,
		log:      slog.Default().With("component", "provider"),
	}
}

// Reload builds and initializes a Manager from cfg, swaps it in, and
// terminates the previous one. When cfg is rejected the previous Manager
// stays in place.
func (s *Supervisor) Reload(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := NewManager(cfg, s.database, s.prefs, s.opts...)
	if err != nil {
		return fmt.Errorf("reload providers: %w", err)
	}
	if err := next.Initialize(ctx); err != nil {
		if termErr := next.Terminate(context.WithoutCancel(ctx)); termErr != nil {
			s.log.Error("Failed to discard partially initialized providers", "error", termErr)
		}
		return fmt.Errorf("reload providers: %w", err)
	}

	prev := s.current.Swap(next)
	if prev != nil {
		if err := prev.Terminate(ctx); err != nil {
			s.log.Error("Previous providers did not terminate cleanly", "error", err)
		}
	}
	return nil
}

// Manager returns the live Manager, or nil before the first Reload.
func (s *Supervisor) Manager() *Manager {
	return s.current.Load()
}

// Close terminates the live Manager.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Swap(nil)
	if prev == nil {
		return nil
	}
	return prev.Terminate(ctx)
}

func (s *Supervisor) Insts() []ChatProvider {
	if m := s.current.Load(); m != nil {
		return m.Insts()
	}
	return nil
}

func (s *Supervisor) CurrentProvider() ChatProvider {
	if m := s.current.Load(); m != nil {
		return m.CurrentProvider()
	}
	return nil
}

func (s *Supervisor) CurrentSTTProvider() STTProvider {
	if m := s.current.Load(); m != nil {
		return m.CurrentSTTProvider()
	}
	return nil
}

func (s *Supervisor) STTEnabled() bool {
	if m := s.current.Load(); m != nil {
		return m.STTEnabled()
	}
	return false
}

func (s *Supervisor) SetCurrentProvider(ctx context.Context, id string) error {
	m := s.current.Load()
	if m == nil {
		return fmt.Errorf("%w: no providers loaded", ErrInvalidState)
	}
	return m.SetCurrentProvider(ctx, id)
}
