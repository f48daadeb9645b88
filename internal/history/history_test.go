package history

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]*Store {
	t.Helper()
	disk := Open(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { disk.Close() })
	require.True(t, disk.Persistent())

	mem := Open("")
	require.False(t, mem.Persistent())

	return map[string]*Store{"sqlite": disk, "memory": mem}
}

func TestBeforePaginatesOlderMessages(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Save(Message{
					ID:        fmt.Sprintf("m%d", i),
					Sender:    "alice",
					Content:   fmt.Sprintf("hello %d", i),
					Timestamp: int64(i * 100),
				}))
			}

			page, more, err := s.Before(450, 2)
			require.NoError(t, err)
			require.True(t, more)
			require.Len(t, page, 2)
			require.Equal(t, "m3", page[0].ID)
			require.Equal(t, "m4", page[1].ID)
			require.Equal(t, "alice", page[0].Sender)

			page, more, err = s.Before(page[0].Timestamp, 2)
			require.NoError(t, err)
			require.False(t, more)
			require.Equal(t, []string{"m1", "m2"}, ids(page))

			page, more, err = s.Before(100, 2)
			require.NoError(t, err)
			require.False(t, more)
			require.Empty(t, page)
		})
	}
}

func TestBeforeSkipsDeleted(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(Message{ID: "a", Content: "a", Timestamp: 1}))
			require.NoError(t, s.Save(Message{ID: "b", Content: "b", Timestamp: 2}))
			require.NoError(t, s.MarkDeleted("a"))
			require.NoError(t, s.MarkRevoked("b"))

			page, _, err := s.Before(10, 10)
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, ids(page))
			require.True(t, page[0].Revoked)

			got, err := s.Get("a")
			require.NoError(t, err)
			require.True(t, got.Deleted)
		})
	}
}

func TestUnknownIDs(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, s.MarkRevoked("nope"), ErrNotFound)
			_, err := s.Get("nope")
			require.ErrorIs(t, err, ErrNotFound)
			_, _, err = s.Before(10, 0)
			require.Error(t, err)
		})
	}
}

func TestSaveAllBatches(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(Message{ID: "b", Content: "stale", Timestamp: 2}))
			require.NoError(t, s.SaveAll([]Message{
				{ID: "a", Content: "first", Timestamp: 1},
				{ID: "b", Content: "second", Timestamp: 2},
				{ID: "c", Content: "third", Timestamp: 3},
			}))

			page, more, err := s.Before(10, 10)
			require.NoError(t, err)
			require.False(t, more)
			require.Equal(t, []string{"a", "b", "c"}, ids(page))
			require.Equal(t, "second", page[1].Content)
			require.NoError(t, s.SaveAll(nil))
		})
	}
}

func ids(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
