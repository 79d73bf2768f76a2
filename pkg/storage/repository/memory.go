package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// ErrInjectedFailure is returned by a Memory backend put into failure mode.
var ErrInjectedFailure = errors.New("repository: injected failure")

// Memory is an in-process backend, used in tests and as a last-resort
// buffer.
type Memory struct {
	name   string
	health healthState

	mu       sync.Mutex
	readings []*storage.Reading
	failing  bool
}

var _ storage.Repository = (*Memory)(nil)

// NewMemory creates an in-memory backend with the given routing name.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Connect(ctx context.Context) error {
	m.health.setConnected(true)
	return nil
}

func (m *Memory) Disconnect(ctx context.Context) error {
	m.health.setConnected(false)
	return nil
}

func (m *Memory) TestConnectivity(ctx context.Context) error {
	m.mu.Lock()
	failing := m.failing
	m.mu.Unlock()
	if failing {
		m.health.record(0, ErrInjectedFailure)
		return ErrInjectedFailure
	}
	m.health.record(0, nil)
	return nil
}

func (m *Memory) Health(ctx context.Context) storage.Health {
	return m.health.snapshot()
}

func (m *Memory) Write(ctx context.Context, r *storage.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		m.health.record(0, ErrInjectedFailure)
		return ErrInjectedFailure
	}
	m.readings = append(m.readings, r)
	m.health.record(0, nil)
	return nil
}

func (m *Memory) WriteBatch(ctx context.Context, rs []*storage.Reading) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		m.health.record(0, ErrInjectedFailure)
		return 0, ErrInjectedFailure
	}
	m.readings = append(m.readings, rs...)
	m.health.record(0, nil)
	return len(rs), nil
}

// SetFailing toggles write failure injection.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Readings returns a copy of everything written so far.
func (m *Memory) Readings() []*storage.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.Reading, len(m.readings))
	copy(out, m.readings)
	return out
}

// Len returns how many readings were written.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}
