package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/imagegen"
	"github.com/kotoba-labs/kaiwa/internal/llm"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/voice"
)

var ErrNotFound = errors.New("session not found")

// Deps are the shared services every session is built from.
type Deps struct {
	Store   memory.Store
	LLM     llm.Provider
	TTS     voice.TTSProvider
	STT     voice.STTProvider
	Images  imagegen.Generator
	Metrics *observability.Metrics

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
}

// Manager tracks live sessions and reaps them when their pipelines
// terminate.
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, sessions: make(map[string]*Session)}
}

// Open builds a session and starts its pipeline. The send callback
// receives every outbound protocol message.
func (m *Manager) Open(ctx context.Context, send Sender) (*Session, error) {
	s, err := newSession(ctx, m.deps, send)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Inc()
		m.deps.Metrics.SessionEvents.WithLabelValues("started").Inc()
	}
	go m.reap(s)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll ends every live session, waiting up to timeout for farewells
// to flush before forcing termination.
func (m *Manager) CloseAll(timeout time.Duration) {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		s.End()
	}
	deadline := time.After(timeout)
	for _, s := range live {
		select {
		case <-s.Done():
		case <-deadline:
			s.Close()
		}
	}
}

func (m *Manager) reap(s *Session) {
	<-s.Done()
	s.Close()

	m.mu.Lock()
	_, present := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if present && m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Dec()
		m.deps.Metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
}
