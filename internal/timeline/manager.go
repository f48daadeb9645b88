// Package timeline owns the ordered message timeline: status transitions,
// offline queueing and resend, history pagination and the revoke/delete
// policy. All collaborator failures are absorbed here and turned into status
// or field updates; public operations never return transport errors.
package timeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/comigor/chatline/internal/clock"
	"github.com/comigor/chatline/internal/logger"
	"github.com/comigor/chatline/internal/metrics"
	"github.com/comigor/chatline/internal/transport"
)

const (
	DefaultPageSize        = 50
	DefaultRevokeTimeLimit = 2 * time.Minute
	DefaultResendDelay     = 100 * time.Millisecond
	DefaultSender          = "me"
)

// Send paths, used as metric labels.
const (
	pathSend   = "send"
	pathRetry  = "retry"
	pathResend = "resend"
)

// Network is the read side of the connectivity monitor plus the reconnect
// handshake. *network.Monitor satisfies it.
type Network interface {
	IsOnline() bool
	FinishReconnect()
	Subscribe(fn func()) (unsubscribe func())
}

// Options tunes a Manager. Zero values fall back to the defaults.
type Options struct {
	PageSize        int
	RevokeTimeLimit time.Duration
	// ResendDelay is the pause between two attempts of a resend sweep.
	ResendDelay   time.Duration
	DefaultSender string
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Manager is the message timeline. It is safe for concurrent use; the lock is
// never held across a collaborator call, and every read-modify-sort of the
// timeline happens inside one critical section.
type Manager struct {
	mu       sync.Mutex
	messages []*Message
	byID     map[string]*Message

	earliest  int64
	hasCursor bool
	hasMore   bool
	loading   bool
	loadErr   string

	filter   Filter
	inflight map[string]string // message id -> revoke/delete in progress
	sweeping bool
	rerun    bool // a reconnection arrived while sweeping
	closed   bool

	observers []func(Message)

	net  Network
	tr   transport.Transport
	opts Options

	clock clock.Clock
	log   *slog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New builds a Manager and subscribes it to the network's reconnection
// signal: every signal starts a resend sweep in the background.
func New(net Network, tr transport.Transport, opts Options) *Manager {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RevokeTimeLimit <= 0 {
		opts.RevokeTimeLimit = DefaultRevokeTimeLimit
	}
	if opts.ResendDelay <= 0 {
		opts.ResendDelay = DefaultResendDelay
	}
	if opts.DefaultSender == "" {
		opts.DefaultSender = DefaultSender
	}
	m := &Manager{
		byID:     make(map[string]*Message),
		inflight: make(map[string]string),
		hasMore:  true,
		net:      net,
		tr:       tr,
		opts:     opts,
		clock:    clock.OrReal(opts.Clock),
		log:      opts.Logger,
	}
	if m.log == nil {
		m.log = logger.For("timeline")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.unsubscribe = net.Subscribe(m.onReconnect)
	return m
}

// Close detaches from the network monitor, cancels background work and waits
// for it to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.unsubscribe()
	m.cancel()
	m.wg.Wait()
}

// Context is cancelled by Close. Work that must outlive a caller's request,
// such as SendAsync from an HTTP handler, should run under it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Wait blocks until background sends and sweeps have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// OnStatusChange registers fn to be called after every status transition.
// Callbacks run without the manager's lock held.
func (m *Manager) OnStatusChange(fn func(Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) onReconnect() {
	if !m.goBackground() {
		return
	}
	go func() {
		defer m.wg.Done()
		m.ResendPending(m.ctx)
	}()
}

// goBackground registers one background task unless the manager is closed.
func (m *Manager) goBackground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// Send appends a new outbound message and delivers it, blocking until the
// attempt settles. It returns the new message id. While offline the message
// is parked as pending and the transport is not called.
func (m *Manager) Send(ctx context.Context, content string) string {
	id, content, ok := m.create(content)
	if ok {
		m.attempt(ctx, id, content, pathSend)
	}
	return id
}

// SendAsync is Send without waiting for delivery: the message exists (and is
// already pending when offline) when it returns. Use Wait or OnStatusChange
// to observe the outcome.
func (m *Manager) SendAsync(ctx context.Context, content string) string {
	id, content, ok := m.create(content)
	if ok && m.goBackground() {
		go func() {
			defer m.wg.Done()
			m.attempt(ctx, id, content, pathSend)
		}()
	}
	return id
}

// create appends a Sending message and reports whether a network attempt
// should follow. When offline the message is moved to pending right away.
func (m *Manager) create(content string) (string, string, bool) {
	m.mu.Lock()
	msg := &Message{
		ID:        newID(),
		Content:   content,
		Timestamp: clock.UnixMilli(m.clock),
		Status:    StatusSending,
		Sender:    m.opts.DefaultSender,
		outbound:  true,
	}
	m.messages = append(m.messages, msg)
	m.byID[msg.ID] = msg
	m.sortLocked()
	metrics.SetTimelineSize(len(m.messages))

	online := m.net.IsOnline()
	var changes []Message
	if !online {
		changes = m.fireLocked(msg, triggerQueue, changes)
		metrics.ObserveSend(pathSend, string(StatusPending), 0)
		m.log.Info("offline; message queued", "id", msg.ID)
	}
	m.mu.Unlock()

	m.publish(changes)
	return msg.ID, content, online
}

// Retry resends a failed or pending message. It reports whether the message
// was delivered; unknown ids and messages in any other status are rejected.
func (m *Manager) Retry(ctx context.Context, id string) bool {
	m.mu.Lock()
	msg, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if msg.Status != StatusFailed && msg.Status != StatusPending {
		m.mu.Unlock()
		m.log.Debug("retry rejected", "id", id, "status", msg.Status)
		return false
	}

	var changes []Message
	if !m.net.IsOnline() {
		changes = m.fireLocked(msg, triggerQueue, changes)
		m.mu.Unlock()
		m.publish(changes)
		metrics.ObserveSend(pathRetry, string(StatusPending), 0)
		return false
	}
	changes = m.fireLocked(msg, triggerDispatch, changes)
	content := msg.Content
	m.mu.Unlock()
	m.publish(changes)

	return m.attempt(ctx, id, content, pathRetry) == StatusSuccess
}

// attempt calls the send collaborator for a message already in Sending and
// records the outcome. It returns the resulting status.
func (m *Manager) attempt(ctx context.Context, id, content, path string) Status {
	start := m.clock.Now()
	err := safeCall(func() error { return m.tr.Send(ctx, id, content) })
	took := m.clock.Now().Sub(start)

	t := triggerDelivered
	if err != nil {
		t = m.classify(ctx, err)
	}

	m.mu.Lock()
	msg, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("message left the timeline during send", "id", id, "path", path, "error", err)
		return ""
	}
	changes := m.fireLocked(msg, t, nil)
	status := msg.Status
	m.mu.Unlock()
	m.publish(changes)

	metrics.ObserveSend(path, string(status), took)
	switch status {
	case StatusSuccess:
		m.log.Debug("message delivered", "id", id, "path", path)
	case StatusPending:
		m.log.Info("network lost during send; message queued", "id", id, "path", path, "error", err)
	default:
		m.log.Warn("message send failed", "id", id, "path", path, "error", err)
	}
	return status
}

// classify maps a send error to a status trigger: losses of connectivity and
// cancellations are recoverable, everything else is a rejection.
func (m *Manager) classify(ctx context.Context, err error) statusTrigger {
	switch {
	case transport.IsNetworkLost(err):
		return triggerNetworkLost
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return triggerNetworkLost
	case !m.net.IsOnline():
		return triggerNetworkLost
	}
	return triggerRejected
}

// ResendPending retries every pending message one at a time, in timeline
// order, pausing ResendDelay between attempts. It stops early when the link
// drops or an attempt reports network loss, and always ends with exactly one
// FinishReconnect. A sweep requested while another is running is folded into
// it: the running sweep collects the pending messages again and makes another
// pass before finishing.
func (m *Manager) ResendPending(ctx context.Context) {
	m.mu.Lock()
	if m.sweeping {
		m.rerun = true
		m.mu.Unlock()
		m.log.Debug("resend sweep already running; another pass queued")
		return
	}
	m.sweeping = true
	m.mu.Unlock()

	for {
		outcome := m.sweep(ctx)
		metrics.IncSweep(outcome)

		m.mu.Lock()
		again := m.rerun && outcome != "cancelled"
		m.rerun = false
		if !again {
			m.sweeping = false
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		m.log.Info("reconnected during resend sweep; sweeping again")
	}

	m.net.FinishReconnect()
}

func (m *Manager) sweep(ctx context.Context) string {
	if !m.net.IsOnline() {
		m.log.Info("offline; resend sweep cancelled")
		return "offline"
	}

	pending := m.pendingIDs()
	m.log.Info("resend sweep started", "pending", len(pending))

	sent := 0
	for i, id := range pending {
		if i > 0 {
			if err := m.clock.Sleep(ctx, m.opts.ResendDelay); err != nil {
				m.log.Info("resend sweep cancelled", "error", err, "remaining", len(pending)-i)
				return "cancelled"
			}
		}
		if !m.net.IsOnline() {
			m.log.Info("network lost; resend sweep stopped", "remaining", len(pending)-i)
			return "interrupted"
		}

		m.mu.Lock()
		msg, ok := m.byID[id]
		if !ok || msg.Status != StatusPending {
			// retried by hand or replaced since the sweep started
			m.mu.Unlock()
			continue
		}
		changes := m.fireLocked(msg, triggerDispatch, nil)
		content := msg.Content
		m.mu.Unlock()
		m.publish(changes)

		switch m.attempt(ctx, id, content, pathResend) {
		case StatusPending:
			m.log.Info("network lost; resend sweep stopped", "remaining", len(pending)-i-1)
			return "interrupted"
		case StatusSuccess:
			sent++
		}
	}
	m.log.Info("resend sweep completed", "sent", sent, "attempted", len(pending))
	return "completed"
}

func (m *Manager) pendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, msg := range m.messages {
		if msg.Status == StatusPending {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}

// fireLocked applies a status trigger and appends the new snapshot to changes
// when the status moved.
func (m *Manager) fireLocked(msg *Message, t statusTrigger, changes []Message) []Message {
	from, err := transition(msg, t)
	if err != nil {
		m.log.Error("invalid status transition", "id", msg.ID, "status", from, "trigger", t, "error", err)
		return changes
	}
	if from == msg.Status {
		return changes
	}
	metrics.IncTransition(string(from), string(msg.Status))
	return append(changes, *msg)
}

func (m *Manager) publish(changes []Message) {
	if len(changes) == 0 {
		return
	}
	m.mu.Lock()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()
	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}
}

// sortLocked restores chronological order. The sort is stable so messages
// sharing a timestamp keep their arrival order.
func (m *Manager) sortLocked() {
	slices.SortStableFunc(m.messages, func(a, b *Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
}

// safeCall runs a collaborator call, turning a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return fn()
}

// Messages returns a snapshot of the full timeline.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(func(Message) bool { return true })
}

// Get returns a snapshot of one message.
func (m *Manager) Get(id string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Count returns the number of messages, revoked and deleted included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Pending returns the messages waiting for the network, in timeline order.
func (m *Manager) Pending() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(func(msg Message) bool { return msg.Status == StatusPending })
}

// SetFilter replaces the view filter.
func (m *Manager) SetFilter(f Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
}

// Filter returns the current view filter.
func (m *Manager) Filter() Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// Filtered returns the messages matching the current filter. The timeline
// itself is untouched.
func (m *Manager) Filtered() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.filter.Match)
}

// LatestSent returns the newest delivered message that is neither revoked
// nor deleted.
func (m *Manager) LatestSent() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Status == StatusSuccess && !msg.IsRevoked && !msg.IsDeleted {
			return *msg, true
		}
	}
	return Message{}, false
}

func (m *Manager) snapshotLocked(keep func(Message) bool) []Message {
	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if keep(*msg) {
			out = append(out, *msg)
		}
	}
	return out
}
