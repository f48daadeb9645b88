package timeline

import (
	"cmp"
	"context"
	"slices"

	"github.com/comigor/chatline/internal/metrics"
	"github.com/comigor/chatline/internal/transport"
)

const defaultHistoryError = "failed to load history, please try again later"

// LoadMoreHistory fetches the page of messages older than the cursor and
// merges it into the timeline. It returns false without calling the
// collaborator when a load is already running, when history is exhausted or
// when no cursor exists yet. Failures are kept in HistoryError and leave the
// cursor untouched so a later call can pick up where this one stopped.
func (m *Manager) LoadMoreHistory(ctx context.Context) bool {
	m.mu.Lock()
	if m.loading || !m.hasMore || !m.hasCursor {
		m.mu.Unlock()
		return false
	}
	m.loading = true
	m.loadErr = ""
	before := m.earliest
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	var page transport.Page
	err := safeCall(func() error {
		var err error
		page, err = m.tr.FetchHistory(ctx, before, m.opts.PageSize)
		return err
	})
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = defaultHistoryError
		}
		m.mu.Lock()
		m.loadErr = msg
		m.mu.Unlock()
		metrics.IncHistoryLoad("error")
		m.log.Error("failed to load history", "before", before, "error", err)
		return false
	}

	m.mu.Lock()
	added := m.mergeLocked(page)
	m.hasMore = page.HasMore
	earliest, more := m.earliest, m.hasMore
	m.mu.Unlock()

	metrics.IncHistoryLoad("success")
	m.log.Debug("history page merged", "before", before, "received", len(page.Messages), "added", added, "earliest", earliest, "hasMore", more)
	return true
}

// mergeLocked prepends a history page, skipping ids already present, and
// re-sorts the whole timeline. The cursor only ever moves to older values.
func (m *Manager) mergeLocked(page transport.Page) int {
	if len(page.Messages) == 0 {
		return 0
	}

	batch := make([]*Message, 0, len(page.Messages))
	oldest := page.Messages[0].Timestamp
	for _, r := range page.Messages {
		oldest = min(oldest, r.Timestamp)
		if _, dup := m.byID[r.ID]; dup {
			continue
		}
		msg := &Message{
			ID:        r.ID,
			Content:   r.Content,
			Timestamp: r.Timestamp,
			Status:    StatusSuccess,
			Sender:    r.Sender,
		}
		batch = append(batch, msg)
		m.byID[msg.ID] = msg
	}
	slices.SortStableFunc(batch, func(a, b *Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	m.messages = append(batch, m.messages...)
	m.sortLocked()
	metrics.SetTimelineSize(len(m.messages))

	if !m.hasCursor || oldest < m.earliest {
		m.earliest = oldest
		m.hasCursor = true
	}
	return len(batch)
}

// HistoryError returns the message of the last failed history load, or "".
func (m *Manager) HistoryError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadErr
}

// ClearHistoryError forgets the last history failure.
func (m *Manager) ClearHistoryError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = ""
}

// HasMoreHistory reports whether older history may still exist.
func (m *Manager) HasMoreHistory() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMore
}

// EarliestTimestamp returns the history cursor and whether one exists.
func (m *Manager) EarliestTimestamp() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.earliest, m.hasCursor
}

// IsLoadingHistory reports whether a history load is in flight.
func (m *Manager) IsLoadingHistory() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}
