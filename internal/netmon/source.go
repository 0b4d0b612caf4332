package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ManualSource is a push source driven by explicit Set calls. Host
// applications bridge OS reachability callbacks through it; tests use it
// to flip connectivity deterministically.
type ManualSource struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, subs: make(map[int]func(bool))}
}

func (s *ManualSource) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	online := s.online
	s.mu.Unlock()

	// deliver the current signal so late subscribers converge
	fn(online)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Set publishes a new raw connectivity signal.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	callbacks := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(online)
	}
}

// Prober is a pull-shaped reachability primitive.
type Prober interface {
	Probe(ctx context.Context) bool
}

// PolledSource adapts a Prober into a push Source by polling on a fixed
// interval. Polling starts with the first subscriber and stops when the
// owning context is cancelled.
type PolledSource struct {
	prober   Prober
	interval time.Duration
	manual   *ManualSource
	ctx      context.Context
	once     sync.Once
}

func NewPolledSource(ctx context.Context, prober Prober, interval time.Duration) *PolledSource {
	return &PolledSource{
		prober:   prober,
		interval: interval,
		manual:   NewManualSource(false),
		ctx:      ctx,
	}
}

func (s *PolledSource) Subscribe(fn func(online bool)) func() {
	s.once.Do(func() { go s.loop() })
	return s.manual.Subscribe(fn)
}

func (s *PolledSource) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.manual.Set(s.prober.Probe(s.ctx))
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.manual.Set(s.prober.Probe(s.ctx))
		}
	}
}

// HTTPProber considers the network reachable when a HEAD request to URL
// answers at all; any response status counts, only transport errors do not.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
