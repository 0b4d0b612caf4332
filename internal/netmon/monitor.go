package netmon

import (
	"sync"
	"time"

	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

// Source is the external reachability primitive in push shape: it invokes
// the callback with the raw connectivity signal and returns a disposer.
// Pull-shaped primitives are adapted via PolledSource.
type Source interface {
	Subscribe(fn func(online bool)) func()
}

// Monitor debounces the raw reachability signal and emits discrete
// online/offline transitions. It carries no sync policy; turning an
// online transition into a sync pass is the orchestrator's job.
type Monitor struct {
	mu       sync.Mutex
	state    models.NetworkState
	raw      bool
	debounce time.Duration
	timer    *time.Timer
	nextID   int
	subs     map[int]func(models.NetworkState)
	logger   *zerolog.Logger
	cancel   func()
}

// New builds a monitor over src. Only raw changes that persist past the
// debounce window are committed as transitions. The monitor starts
// offline until the source reports otherwise.
func New(src Source, debounce time.Duration, logger *zerolog.Logger) *Monitor {
	m := &Monitor{
		debounce: debounce,
		subs:     make(map[int]func(models.NetworkState)),
		logger:   logger,
	}
	m.cancel = src.Subscribe(m.observe)
	return m
}

// CurrentState returns the latest committed state.
func (m *Monitor) CurrentState() models.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a transition callback and returns its disposer.
// The disposer is idempotent.
func (m *Monitor) Subscribe(fn func(models.NetworkState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Close detaches from the source and stops any pending debounce timer.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) observe(online bool) {
	m.mu.Lock()

	if online == m.raw && m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.raw = online

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if m.debounce <= 0 {
		m.commitLocked(online)
		return
	}

	m.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		m.timer = nil
		if m.raw != online {
			// flap reversed inside the window, drop it
			m.mu.Unlock()
			return
		}
		m.commitLocked(online)
	})
	m.mu.Unlock()
}

// commitLocked publishes a committed transition. Takes ownership of m.mu
// and releases it before invoking callbacks.
func (m *Monitor) commitLocked(online bool) {
	if m.state.IsOnline == online {
		m.mu.Unlock()
		return
	}

	m.state = models.NetworkState{IsOnline: online, LastChangedAt: time.Now().UTC()}
	state := m.state

	callbacks := make([]func(models.NetworkState), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	m.logger.Info().Bool("online", online).Msg("network transition")
	for _, fn := range callbacks {
		fn(state)
	}
}
