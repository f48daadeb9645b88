package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanRevoke_Window(t *testing.T) {
	f := newFixture(t, true, Options{RevokeTimeLimit: 120 * time.Second})
	id := f.m.Send(context.Background(), "x")

	f.clock.Set(time.UnixMilli(119999))
	require.True(t, f.m.CanRevoke(id))

	f.clock.Set(time.UnixMilli(120000))
	require.True(t, f.m.CanRevoke(id))

	f.clock.Set(time.UnixMilli(120001))
	require.False(t, f.m.CanRevoke(id))
}

func TestCanRevoke_RequiresDelivered(t *testing.T) {
	f := newFixture(t, false, Options{})
	id := f.m.Send(context.Background(), "queued")
	require.False(t, f.m.CanRevoke(id))
	require.False(t, f.m.CanRevoke("missing"))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")

	require.True(t, f.m.Revoke(context.Background(), id))
	msg, _ := f.m.Get(id)
	require.True(t, msg.IsRevoked)
	require.Equal(t, 1, f.m.Count())
	require.Equal(t, []string{id}, f.tr.revokes)

	// already revoked
	require.False(t, f.m.CanRevoke(id))
	require.False(t, f.m.Revoke(context.Background(), id))
	require.Len(t, f.tr.revokes, 1)

	_, ok := f.m.LatestSent()
	require.False(t, ok)
}

func TestRevoke_RechecksWindow(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")
	require.True(t, f.m.CanRevoke(id))

	f.clock.Advance(DefaultRevokeTimeLimit + time.Millisecond)
	require.False(t, f.m.Revoke(context.Background(), id))
	require.Empty(t, f.tr.revokes)
}

func TestRevoke_Offline(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")
	f.net.setOnline(false)

	require.False(t, f.m.Revoke(context.Background(), id))
	require.False(t, f.m.Delete(context.Background(), id))
	require.Empty(t, f.tr.revokes)
	require.Empty(t, f.tr.deletes)
}

func TestRevoke_CollaboratorFailure(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")
	f.tr.revoke = func(string) error { return errors.New("too late") }

	require.False(t, f.m.Revoke(context.Background(), id))
	msg, _ := f.m.Get(id)
	require.False(t, msg.IsRevoked)
	require.True(t, f.m.CanRevoke(id))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")

	// no time window for delete
	f.clock.Advance(time.Hour)
	require.True(t, f.m.Delete(context.Background(), id))
	msg, _ := f.m.Get(id)
	require.True(t, msg.IsDeleted)
	require.Equal(t, 1, f.m.Count())

	require.False(t, f.m.Delete(context.Background(), id))
	require.False(t, f.m.Revoke(context.Background(), id))
	require.Len(t, f.tr.deletes, 1)
	require.False(t, f.m.Delete(context.Background(), "missing"))
}

func TestDelete_RevokedMessage(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")
	require.True(t, f.m.Revoke(context.Background(), id))

	require.False(t, f.m.Delete(context.Background(), id))
	require.Empty(t, f.tr.deletes)
}

func TestRevokeDelete_InFlightGuard(t *testing.T) {
	f := newFixture(t, true, Options{})
	id := f.m.Send(context.Background(), "x")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.tr.revoke = func(string) error {
		close(entered)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	var revoked bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		revoked = f.m.Revoke(context.Background(), id)
	}()
	<-entered

	require.False(t, f.m.Revoke(context.Background(), id))
	require.False(t, f.m.Delete(context.Background(), id))

	close(release)
	wg.Wait()
	require.True(t, revoked)
	require.Len(t, f.tr.revokes, 1)
	require.Empty(t, f.tr.deletes)
}
