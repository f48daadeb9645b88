package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatline/internal/clock"
	"github.com/comigor/chatline/internal/transport"
)

func TestSeed_ReplacesTimeline(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.clock.Set(time.UnixMilli(50))
	queued := f.m.Send(t.Context(), "queued")

	f.m.Seed([]transport.Record{{ID: "old", Timestamp: 5}})
	f.m.Seed([]transport.Record{
		{ID: "b", Timestamp: 20},
		{ID: "a", Timestamp: 10},
		{ID: "a", Timestamp: 30},
		{ID: queued, Timestamp: 40},
	})

	msgs := f.m.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, StatusSuccess, msgs[0].Status)
	require.Equal(t, queued, msgs[2].ID)
	_, ok := f.m.Get("old")
	require.False(t, ok, "earlier seed replaced")

	earliest, ok := f.m.EarliestTimestamp()
	require.True(t, ok)
	require.Equal(t, int64(10), earliest)
	require.True(t, f.m.HasMoreHistory())
	require.Len(t, f.m.Pending(), 1, "outbound messages survive seeding")
}

func TestSeedDuringSend(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.tr.send = func(string) error {
		f.m.InitMessages(3, 1)
		return nil
	}

	id := f.m.Send(t.Context(), "racing the seed")

	require.Equal(t, StatusSuccess, status(t, f.m, id))
	require.Equal(t, 4, f.m.Count())
	requireSorted(t, f.m.Messages())
}

func TestSeedDuringSweep(t *testing.T) {
	f := newFixture(t, true, Options{})
	ids := queuePending(t, f, "A", "B")
	f.tr.send = func(string) error {
		f.m.Seed(nil)
		return nil
	}

	f.m.ResendPending(t.Context())

	require.Equal(t, StatusSuccess, status(t, f.m, ids[0]))
	require.Equal(t, StatusSuccess, status(t, f.m, ids[1]))
	require.Equal(t, 1, f.net.finishes())
}

func TestInitMessages(t *testing.T) {
	f := newFixture(t, true, Options{})
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.Local)
	f.clock.Set(now)

	f.m.InitMessages(100, 5)

	msgs := f.m.Messages()
	require.Len(t, msgs, 100)
	requireSorted(t, msgs)

	earliest, ok := f.m.EarliestTimestamp()
	require.True(t, ok)
	require.Equal(t, msgs[0].Timestamp, earliest)

	oldestDay := time.Date(2026, 10, 14, 0, 0, 0, 0, time.Local).UnixMilli()
	senders := make(map[string]bool)
	for _, m := range msgs {
		require.Equal(t, StatusSuccess, m.Status)
		require.LessOrEqual(t, m.Timestamp, now.UnixMilli())
		require.GreaterOrEqual(t, m.Timestamp, oldestDay)
		senders[m.Sender] = true
	}
	require.Len(t, senders, len(seedSenders))
}

func TestBackfill(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 10, 18, 23, 0, 0, 0, time.Local))

	require.Empty(t, Backfill(c, 0, 3))

	recs := Backfill(c, 6, 3)
	require.Len(t, recs, 6)
	ids := make(map[string]bool)
	for _, r := range recs {
		require.False(t, ids[r.ID])
		ids[r.ID] = true
		hour := time.UnixMilli(r.Timestamp).In(time.Local).Hour()
		require.GreaterOrEqual(t, hour, 8)
		require.Less(t, hour, 22)
	}
	require.Contains(t, recs[0].Content, "Sun Oct 18")
	require.Contains(t, recs[2].Content, "Sat Oct 17")
}

func TestHistoryBefore(t *testing.T) {
	cursor := time.Date(2026, 10, 14, 8, 0, 0, 0, time.Local).UnixMilli()

	recs := HistoryBefore(cursor, 40, 4)
	require.Len(t, recs, 40)
	dayBefore := time.Date(2026, 10, 14, 0, 0, 0, 0, time.Local).UnixMilli()
	for _, r := range recs {
		require.Less(t, r.Timestamp, dayBefore)
		require.Contains(t, r.ID, "hist-")
	}
}
