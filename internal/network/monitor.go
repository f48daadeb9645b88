// Package network tracks link connectivity and drives the bounded reconnect
// protocol that tells consumers when to resume queued work.
package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/chatline/internal/clock"
	"github.com/comigor/chatline/internal/logger"
	"github.com/comigor/chatline/internal/metrics"
)

// State is the monitor's connectivity state.
type State string

const (
	Offline      State = "Offline"
	OnlineIdle   State = "OnlineIdle"
	Reconnecting State = "Reconnecting"
)

type trigger string

const (
	triggerConnected    trigger = "Connected"
	triggerDisconnected trigger = "Disconnected"
	triggerReconnect    trigger = "Reconnect"
	triggerFinish       trigger = "Finish"
	triggerGiveUp       trigger = "GiveUp"
)

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Options tunes a Monitor. Zero values fall back to the defaults.
type Options struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	// Debounce delays platform transitions until the signal has been stable
	// for this long. Zero applies them immediately.
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

type listener struct {
	id int
	fn func()
}

// Monitor is the single source of truth for connectivity. It is safe for
// concurrent use. Reconnection listeners run synchronously on the goroutine
// that caused the transition, after the monitor's lock is released, so they
// should hand long work off to another goroutine.
type Monitor struct {
	mu  sync.Mutex
	fsm *stateless.StateMachine

	state    State
	attempts int

	retryTimer    clock.Timer
	debounceTimer clock.Timer

	listeners   []listener
	nextID      int
	unsubscribe func()
	closed      bool

	opts  Options
	clock clock.Clock
	log   *slog.Logger
}

// New builds a Monitor seeded from the provider's current value and
// subscribed to its change notifications. Call Close to unsubscribe.
func New(provider Connectivity, opts Options) *Monitor {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	m := &Monitor{
		state: Offline,
		opts:  opts,
		clock: clock.OrReal(opts.Clock),
		log:   opts.Logger,
	}
	if m.log == nil {
		m.log = logger.For("network")
	}
	if provider.Online() {
		m.state = OnlineIdle
	}
	m.fsm = m.newStateMachine()
	metrics.SetOnline(m.state != Offline)

	m.unsubscribe = provider.Subscribe(m.onPlatformChange)
	return m
}

func (m *Monitor) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) { return m.state, nil },
		func(_ context.Context, s stateless.State) error {
			m.state = s.(State)
			return nil
		},
		stateless.FiringImmediate,
	)

	fsm.Configure(Offline).
		Permit(triggerConnected, OnlineIdle).
		Ignore(triggerDisconnected).
		Ignore(triggerReconnect).
		Ignore(triggerFinish).
		Ignore(triggerGiveUp)

	fsm.Configure(OnlineIdle).
		Permit(triggerDisconnected, Offline).
		Permit(triggerReconnect, Reconnecting).
		Ignore(triggerConnected).
		Ignore(triggerFinish).
		Ignore(triggerGiveUp)

	// Reconnect while already reconnecting is a no-op.
	fsm.Configure(Reconnecting).
		Permit(triggerDisconnected, Offline).
		Permit(triggerFinish, OnlineIdle).
		Permit(triggerGiveUp, OnlineIdle).
		Ignore(triggerReconnect).
		Ignore(triggerConnected)

	return fsm
}

// fireLocked fires t against the state machine. Every trigger is either
// permitted or ignored in every state, so an error means a broken table.
func (m *Monitor) fireLocked(t trigger) {
	from := m.state
	if err := m.fsm.Fire(t); err != nil {
		m.log.Error("network state machine rejected trigger", "trigger", t, "state", from, "error", err)
		return
	}
	if from != m.state {
		m.log.Debug("network state changed", "from", from, "to", m.state, "trigger", t)
		metrics.SetOnline(m.state != Offline)
	}
}

// IsOnline reports whether the link is considered up.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != Offline
}

// IsReconnecting reports whether a reconnect cycle is in progress.
func (m *Monitor) IsReconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Reconnecting
}

// ReconnectAttempts returns the current attempt counter.
func (m *Monitor) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for reconnection signals and returns a func that
// removes it.
func (m *Monitor) Subscribe(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// MarkOffline forces the Offline state and clears any reconnect cycle.
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireLocked(triggerDisconnected)
	m.resetLocked()
	m.log.Info("network marked offline")
}

// MarkOnline forces the link up and runs the reconnect path.
func (m *Monitor) MarkOnline() {
	m.mu.Lock()
	m.fireLocked(triggerConnected)
	notify := m.reconnectLocked()
	m.mu.Unlock()
	m.emit(notify)
}

// BeginAttempt counts one reconnect attempt and schedules a re-check after
// the reconnect interval. When the re-check finds the link still down it
// tries again; when it finds it up it runs the reconnect path. Once the
// counter reaches the ceiling the cycle is abandoned without a signal.
func (m *Monitor) BeginAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopRetryLocked()

	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.fireLocked(triggerGiveUp)
		m.log.Warn("giving up reconnecting", "attempts", m.attempts)
		return
	}

	m.attempts++
	metrics.SetReconnectAttempts(m.attempts)
	m.log.Debug("reconnect attempt scheduled", "attempt", m.attempts, "in", m.opts.ReconnectInterval)

	var timer clock.Timer
	timer = m.clock.AfterFunc(m.opts.ReconnectInterval, func() {
		m.mu.Lock()
		// A stopped timer may still have been dispatched; only the current
		// one may act.
		if m.closed || m.retryTimer != timer {
			m.mu.Unlock()
			return
		}
		m.retryTimer = nil
		if m.state == Offline {
			m.mu.Unlock()
			m.BeginAttempt()
			return
		}
		notify := m.reconnectLocked()
		m.mu.Unlock()
		m.emit(notify)
	})
	m.retryTimer = timer
}

// CancelAttempts abandons the reconnect cycle and resets the counter.
func (m *Monitor) CancelAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireLocked(triggerGiveUp)
	m.resetLocked()
}

// FinishReconnect is called by the consumer once it has resumed its work.
func (m *Monitor) FinishReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireLocked(triggerFinish)
	m.resetLocked()
	m.log.Debug("reconnect finished", "state", m.state)
}

// Close unsubscribes from the provider, stops every timer and drops all
// listeners.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRetryLocked()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.listeners = nil
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Monitor) onPlatformChange(online bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.opts.Debounce > 0 {
		if m.debounceTimer != nil {
			m.debounceTimer.Stop()
		}
		var timer clock.Timer
		timer = m.clock.AfterFunc(m.opts.Debounce, func() {
			m.mu.Lock()
			if m.debounceTimer != timer {
				m.mu.Unlock()
				return
			}
			m.debounceTimer = nil
			m.mu.Unlock()
			m.applyPlatform(online)
		})
		m.debounceTimer = timer
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.applyPlatform(online)
}

// applyPlatform folds a platform notification into the state. Repeats of the
// current value are dropped. Going offline leaves an attempt cycle running,
// since that cycle exists to wait out the outage.
func (m *Monitor) applyPlatform(online bool) {
	m.mu.Lock()
	if m.closed || online == (m.state != Offline) {
		m.mu.Unlock()
		return
	}
	var notify []func()
	if online {
		m.log.Info("network connectivity restored")
		m.fireLocked(triggerConnected)
		notify = m.reconnectLocked()
	} else {
		m.log.Info("network connectivity lost")
		m.fireLocked(triggerDisconnected)
	}
	m.mu.Unlock()
	m.emit(notify)
}

// reconnectLocked enters Reconnecting and returns the listeners to signal, or
// nil when the link is down or a reconnect is already in progress.
func (m *Monitor) reconnectLocked() []func() {
	if m.closed || m.state != OnlineIdle {
		return nil
	}
	m.fireLocked(triggerReconnect)
	m.attempts = 0
	metrics.SetReconnectAttempts(0)
	m.stopRetryLocked()

	notify := make([]func(), 0, len(m.listeners))
	for _, l := range m.listeners {
		notify = append(notify, l.fn)
	}
	metrics.IncReconnectSignal()
	m.log.Info("emitting reconnection signal", "listeners", len(notify))
	return notify
}

func (m *Monitor) emit(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}

func (m *Monitor) resetLocked() {
	m.attempts = 0
	metrics.SetReconnectAttempts(0)
	m.stopRetryLocked()
}

func (m *Monitor) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
