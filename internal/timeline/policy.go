package timeline

import (
	"context"

	"github.com/comigor/chatline/internal/metrics"
)

// CanRevoke reports whether a message may be revoked now: it exists, was
// delivered, is neither revoked nor deleted, and is at most RevokeTimeLimit
// old.
func (m *Manager) CanRevoke(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	return ok && m.canRevokeLocked(msg)
}

func (m *Manager) canRevokeLocked(msg *Message) bool {
	if msg.Status != StatusSuccess || msg.IsRevoked || msg.IsDeleted {
		return false
	}
	age := m.clock.Now().UnixMilli() - msg.Timestamp
	return age <= m.opts.RevokeTimeLimit.Milliseconds()
}

// Revoke asks the remote side to revoke a message and flags it on success.
// The policy is checked again here; a stale CanRevoke from the caller is not
// trusted. The message stays in the timeline.
func (m *Manager) Revoke(ctx context.Context, id string) bool {
	return m.flag(ctx, opRevoke, id)
}

// Delete asks the remote side to delete a message and flags it on success.
// Unlike revoke there is no time window. The message stays in the timeline.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	return m.flag(ctx, opDelete, id)
}

const (
	opRevoke = "revoke"
	opDelete = "delete"
)

func (m *Manager) flag(ctx context.Context, op, id string) bool {
	log := m.log.With("op", op, "id", id)

	m.mu.Lock()
	msg, ok := m.byID[id]
	var reason string
	switch {
	case !ok:
		reason = "message not found"
	case op == opRevoke && !m.canRevokeLocked(msg):
		reason = "message cannot be revoked"
	case op == opDelete && (msg.IsRevoked || msg.IsDeleted):
		reason = "message already revoked or deleted"
	case m.inflight[id] != "":
		reason = m.inflight[id] + " already in flight"
	case !m.net.IsOnline():
		reason = "offline"
	}
	if reason != "" {
		m.mu.Unlock()
		metrics.IncPolicyRejection(op)
		log.Warn("request rejected", "reason", reason)
		return false
	}
	m.inflight[id] = op
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	err := safeCall(func() error {
		if op == opRevoke {
			return m.tr.Revoke(ctx, id)
		}
		return m.tr.Delete(ctx, id)
	})
	if err != nil {
		log.Error("request failed", "error", err)
		return false
	}

	m.mu.Lock()
	if op == opRevoke {
		msg.IsRevoked = true
	} else {
		msg.IsDeleted = true
	}
	m.mu.Unlock()
	log.Info("message flagged")
	return true
}
