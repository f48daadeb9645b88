package network

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/comigor/chatline/internal/logger"
)

// Connectivity is the platform's view of the link: a current value and a
// notification on change.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// notifier is the subscriber bookkeeping shared by the providers.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
}

func (n *notifier) subscribe(fn func(bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(bool))
	}
	n.nextID++
	id := n.nextID
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *notifier) publish(online bool) {
	n.mu.Lock()
	fns := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// Switch is a manually toggled Connectivity, used for simulation and tests.
type Switch struct {
	notifier
	mu     sync.Mutex
	online bool
}

// NewSwitch returns a Switch in the given position.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online}
}

func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Switch) Subscribe(fn func(bool)) func() {
	return s.subscribe(fn)
}

// Subscribers reports how many listeners are attached.
func (s *Switch) Subscribers() int {
	return s.count()
}

// Set flips the switch and notifies subscribers. Setting the current value
// still notifies, like a platform that repeats its last event.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.publish(online)
}

// Dialer opens a connection for the probe; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe derives connectivity from periodic TCP dials to a well-known address.
type Probe struct {
	notifier
	address  string
	interval time.Duration
	timeout  time.Duration
	dialer   Dialer
	log      *slog.Logger

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbe builds a Probe. It reports offline until the first check runs.
func NewProbe(address string, interval, timeout time.Duration, dialer Dialer) *Probe {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{
		address:  address,
		interval: interval,
		timeout:  timeout,
		dialer:   dialer,
		log:      logger.For("network.probe").With("address", address),
	}
}

func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Probe) Subscribe(fn func(bool)) func() {
	return p.subscribe(fn)
}

// Check dials once and publishes a notification when the result differs
// from the last one.
func (p *Probe) Check(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	up := false
	conn, err := p.dialer.DialContext(dialCtx, "tcp", p.address)
	if err == nil {
		up = true
		conn.Close()
	} else {
		p.log.Debug("probe dial failed", "error", err)
	}

	p.mu.Lock()
	changed := up != p.online
	p.online = up
	p.mu.Unlock()

	if changed {
		p.log.Info("probe result changed", "online", up)
		p.publish(up)
	}
	return up
}

// Start runs an initial check and then probes every interval until Stop or
// ctx cancellation.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.Check(ctx)
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
