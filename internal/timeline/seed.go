package timeline

import (
	"fmt"
	"time"

	"github.com/comigor/chatline/internal/clock"
	"github.com/comigor/chatline/internal/metrics"
	"github.com/comigor/chatline/internal/transport"
)

var seedSenders = []string{"alice", "bob", "carol", "system", "admin"}

// Seed replaces the inbound part of the timeline with delivered messages
// built from records, sorts it and points the history cursor at the oldest
// message. Messages created by Send survive, so attempts in flight keep their
// target; a record reusing one of their ids is skipped.
func (m *Manager) Seed(records []transport.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]*Message, 0, len(records))
	byID := make(map[string]*Message, len(records))
	for _, msg := range m.messages {
		if msg.outbound {
			kept = append(kept, msg)
			byID[msg.ID] = msg
		}
	}
	m.messages = kept
	m.byID = byID
	m.hasCursor = false
	m.hasMore = true
	m.loadErr = ""

	for _, r := range records {
		if _, dup := m.byID[r.ID]; dup {
			continue
		}
		msg := &Message{ID: r.ID, Content: r.Content, Timestamp: r.Timestamp, Status: StatusSuccess, Sender: r.Sender}
		m.messages = append(m.messages, msg)
		m.byID[msg.ID] = msg
	}
	m.sortLocked()
	if len(m.messages) > 0 {
		m.earliest = m.messages[0].Timestamp
		m.hasCursor = true
	}
	metrics.SetTimelineSize(len(m.messages))
}

// InitMessages seeds the timeline with a synthetic backfill of count
// messages spread over the last days days, between 08:00 and 22:00 local
// time, and returns the records it used.
func (m *Manager) InitMessages(count, days int) []transport.Record {
	records := Backfill(m.clock, count, days)
	m.Seed(records)
	m.log.Info("timeline seeded", "messages", len(records), "days", days)
	return records
}

// Backfill builds count delivered records spread over days calendar days
// ending today. Slots that would fall in the future are pulled back to within
// the last hour.
func Backfill(c clock.Clock, count, days int) []transport.Record {
	return backfill(c.Now(), count, days, "seed")
}

// HistoryBefore builds count records spread over days calendar days ending
// the day before ts, so every record is strictly older than ts.
func HistoryBefore(ts int64, count, days int) []transport.Record {
	t := time.UnixMilli(ts)
	y, mo, d := t.Date()
	end := time.Date(y, mo, d, 0, 0, 0, 0, t.Location()).Add(-time.Millisecond)
	return backfill(end, count, days, "hist")
}

func backfill(now time.Time, count, days int, prefix string) []transport.Record {
	if count <= 0 {
		return nil
	}
	if days <= 0 {
		days = 1
	}
	nowMs := now.UnixMilli()
	perDay := (count + days - 1) / days
	y, mo, d := now.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())

	const dayHours = 14
	out := make([]transport.Record, 0, count)
	for i := 0; i < count; i++ {
		dayOffset := i / perDay
		dayIndex := i % perDay

		dayStart := midnight.AddDate(0, 0, -dayOffset)
		hour := 8 + dayIndex*dayHours/perDay
		minute := (dayIndex * dayHours * 60 / perDay) % 60
		ts := dayStart.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute).UnixMilli()
		if ts > nowMs {
			ts = nowMs - int64(i%60+1)*time.Minute.Milliseconds()
		}

		out = append(out, transport.Record{
			ID:        fmt.Sprintf("%s-%d-%d", prefix, ts, i),
			Content:   fmt.Sprintf("message %d from %s", i+1, dayStart.Format("Mon Jan 2")),
			Sender:    seedSenders[i%len(seedSenders)],
			Timestamp: ts,
		})
	}
	return out
}
