package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatline/internal/transport"
)

func TestLoadMoreHistory_MergesPage(t *testing.T) {
	f := newFixture(t, true, Options{PageSize: 2})
	f.m.Seed([]transport.Record{{ID: "x", Timestamp: 1000}, {ID: "y", Timestamp: 1500}})

	var gotBefore int64
	var gotSize int
	f.tr.fetch = func(before int64, pageSize int) (transport.Page, error) {
		gotBefore, gotSize = before, pageSize
		return transport.Page{Messages: []transport.Record{
			{ID: "a", Timestamp: 500},
			{ID: "b", Timestamp: 800},
		}, HasMore: true}, nil
	}

	require.True(t, f.m.LoadMoreHistory(context.Background()))
	require.Equal(t, int64(1000), gotBefore)
	require.Equal(t, 2, gotSize)

	earliest, ok := f.m.EarliestTimestamp()
	require.True(t, ok)
	require.Equal(t, int64(500), earliest)
	require.True(t, f.m.HasMoreHistory())
	require.False(t, f.m.IsLoadingHistory())

	msgs := f.m.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "a", msgs[0].ID)
	require.Equal(t, "b", msgs[1].ID)
	for _, m := range msgs {
		require.Equal(t, StatusSuccess, m.Status)
	}
}

func TestLoadMoreHistory_CursorNeverMovesForward(t *testing.T) {
	f := newFixture(t, true, Options{PageSize: 2})
	f.m.Seed([]transport.Record{{ID: "seed", Timestamp: 1000}})

	pages := []transport.Page{
		{Messages: []transport.Record{{ID: "a", Timestamp: 500}, {ID: "b", Timestamp: 800}}, HasMore: true},
		{Messages: []transport.Record{{ID: "c", Timestamp: 100}, {ID: "d", Timestamp: 300}}, HasMore: false},
	}
	var befores []int64
	f.tr.fetch = func(before int64, _ int) (transport.Page, error) {
		befores = append(befores, before)
		p := pages[0]
		pages = pages[1:]
		for _, r := range p.Messages {
			require.Less(t, r.Timestamp, before)
		}
		return p, nil
	}

	prev, _ := f.m.EarliestTimestamp()
	for range 2 {
		require.True(t, f.m.LoadMoreHistory(context.Background()))
		cur, _ := f.m.EarliestTimestamp()
		require.LessOrEqual(t, cur, prev)
		prev = cur
	}
	require.Equal(t, []int64{1000, 500}, befores)
	require.Equal(t, int64(100), prev)
	require.False(t, f.m.HasMoreHistory())

	// exhausted: no further calls
	require.False(t, f.m.LoadMoreHistory(context.Background()))
	require.Len(t, befores, 2)
}

func TestLoadMoreHistory_EmptyPageKeepsCursor(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.m.Seed([]transport.Record{{ID: "seed", Timestamp: 1000}})
	f.tr.fetch = func(int64, int) (transport.Page, error) {
		return transport.Page{HasMore: false}, nil
	}

	require.True(t, f.m.LoadMoreHistory(context.Background()))
	earliest, _ := f.m.EarliestTimestamp()
	require.Equal(t, int64(1000), earliest)
	require.False(t, f.m.HasMoreHistory())
}

func TestLoadMoreHistory_NoCursor(t *testing.T) {
	f := newFixture(t, true, Options{})
	_, ok := f.m.EarliestTimestamp()
	require.False(t, ok)

	require.False(t, f.m.LoadMoreHistory(context.Background()))
	require.Empty(t, f.tr.fetches)
}

func TestLoadMoreHistory_SkipsKnownIDs(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.m.Seed([]transport.Record{{ID: "a", Content: "original", Timestamp: 1000}})
	f.tr.fetch = func(int64, int) (transport.Page, error) {
		return transport.Page{Messages: []transport.Record{
			{ID: "a", Content: "duplicate", Timestamp: 900},
			{ID: "b", Timestamp: 700},
		}, HasMore: true}, nil
	}

	require.True(t, f.m.LoadMoreHistory(context.Background()))
	require.Equal(t, 2, f.m.Count())
	a, _ := f.m.Get("a")
	require.Equal(t, "original", a.Content)
	earliest, _ := f.m.EarliestTimestamp()
	require.Equal(t, int64(700), earliest)
}

func TestLoadMoreHistory_FailureKeepsState(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.m.Seed([]transport.Record{{ID: "seed", Timestamp: 1000}})
	f.tr.fetch = func(int64, int) (transport.Page, error) {
		return transport.Page{}, errors.New("history unavailable")
	}

	require.False(t, f.m.LoadMoreHistory(context.Background()))
	require.Equal(t, "history unavailable", f.m.HistoryError())
	require.False(t, f.m.IsLoadingHistory())
	require.True(t, f.m.HasMoreHistory())
	earliest, _ := f.m.EarliestTimestamp()
	require.Equal(t, int64(1000), earliest)
	require.Equal(t, 1, f.m.Count())

	f.m.ClearHistoryError()
	require.Empty(t, f.m.HistoryError())

	// a later call resumes from the same cursor
	f.tr.fetch = func(before int64, _ int) (transport.Page, error) {
		require.Equal(t, int64(1000), before)
		return transport.Page{Messages: []transport.Record{{ID: "old", Timestamp: 10}}}, nil
	}
	require.True(t, f.m.LoadMoreHistory(context.Background()))
}

func TestLoadMoreHistory_PanicClearsGuard(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.m.Seed([]transport.Record{{ID: "seed", Timestamp: 1000}})
	f.tr.fetch = func(int64, int) (transport.Page, error) { panic("decoder exploded") }

	require.False(t, f.m.LoadMoreHistory(context.Background()))
	require.False(t, f.m.IsLoadingHistory())
	require.Contains(t, f.m.HistoryError(), "decoder exploded")
}

func TestLoadMoreHistory_NotReentrant(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.m.Seed([]transport.Record{{ID: "seed", Timestamp: 1000}})
	entered := make(chan struct{})
	release := make(chan struct{})
	f.tr.fetch = func(int64, int) (transport.Page, error) {
		close(entered)
		<-release
		return transport.Page{HasMore: true}, nil
	}

	var wg sync.WaitGroup
	var loaded bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		loaded = f.m.LoadMoreHistory(context.Background())
	}()
	<-entered

	require.True(t, f.m.IsLoadingHistory())
	require.False(t, f.m.LoadMoreHistory(context.Background()))

	close(release)
	wg.Wait()
	require.True(t, loaded)
	require.False(t, f.m.IsLoadingHistory())
	require.Len(t, f.tr.fetches, 1)
}
