package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Service is a named unit with start/stop hooks. Start must return promptly;
// long-running work belongs in goroutines owned by the service.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	svcs    []Service
	started []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) { m.svcs = append(m.svcs, s) }

// StartAll starts every registered service. On the first failure it stops the
// services already started (in reverse) and returns the failing service's error.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, s := range m.svcs {
		if err := s.Start(ctx); err != nil {
			_ = m.StopAll(ctx)
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.started = append(m.started, s)
	}
	return nil
}

// StopAll stops started services in reverse order, collecting all errors.
func (m *Manager) StopAll(ctx context.Context) error {
	var err error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		if e := s.Stop(ctx); e != nil {
			err = multierr.Append(err, fmt.Errorf("stop %s: %w", s.Name(), e))
		}
	}
	m.started = nil
	return err
}
