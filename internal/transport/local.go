package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatline/internal/clock"
	"github.com/comigor/chatline/internal/history"
	"github.com/comigor/chatline/internal/logger"
)

// OnlineFunc reports whether the link to the remote side is up.
type OnlineFunc func() bool

// LocalOptions tunes the Local transport.
type LocalOptions struct {
	// Sender is recorded on archived outbound messages.
	Sender string
	// Latency simulates the round trip of every call.
	Latency time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Local is a loopback transport: sends are archived in the history store and
// history pages are read back from it. Calls fail with ErrNetworkLost while
// the online check reports false, both before and after the simulated latency.
type Local struct {
	store  *history.Store
	online OnlineFunc
	opts   LocalOptions
	clock  clock.Clock
	log    *slog.Logger
}

// NewLocal builds a Local transport over store. A nil online func means
// always online.
func NewLocal(store *history.Store, online OnlineFunc, opts LocalOptions) *Local {
	if online == nil {
		online = func() bool { return true }
	}
	if opts.Sender == "" {
		opts.Sender = "me"
	}
	l := &Local{store: store, online: online, opts: opts, clock: clock.OrReal(opts.Clock), log: opts.Logger}
	if l.log == nil {
		l.log = logger.For("transport.local")
	}
	return l
}

func (l *Local) roundTrip(ctx context.Context) error {
	if !l.online() {
		return ErrNetworkLost
	}
	if err := l.clock.Sleep(ctx, l.opts.Latency); err != nil {
		return err
	}
	if !l.online() {
		return ErrNetworkLost
	}
	return nil
}

func (l *Local) Send(ctx context.Context, id, content string) error {
	if err := l.roundTrip(ctx); err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	msg := history.Message{
		ID:        id,
		Sender:    l.opts.Sender,
		Content:   content,
		Timestamp: clock.UnixMilli(l.clock),
	}
	if err := l.store.Save(msg); err != nil {
		l.log.Error("archive send failed", "error", err)
		return &RemoteError{Op: "send", Reason: err.Error()}
	}
	return nil
}

func (l *Local) FetchHistory(ctx context.Context, before int64, pageSize int) (Page, error) {
	if err := l.roundTrip(ctx); err != nil {
		return Page{}, err
	}
	msgs, more, err := l.store.Before(before, pageSize)
	if err != nil {
		return Page{}, &RemoteError{Op: "load history", Reason: err.Error()}
	}
	page := Page{Messages: make([]Record, 0, len(msgs)), HasMore: more}
	for _, m := range msgs {
		page.Messages = append(page.Messages, Record{ID: m.ID, Content: m.Content, Sender: m.Sender, Timestamp: m.Timestamp})
	}
	return page, nil
}

func (l *Local) Revoke(ctx context.Context, id string) error {
	return l.flag(ctx, "revoke", id, l.store.MarkRevoked)
}

func (l *Local) Delete(ctx context.Context, id string) error {
	return l.flag(ctx, "delete", id, l.store.MarkDeleted)
}

// Preload archives records the remote side already holds, such as the
// timeline's seed and the older history behind it.
func (l *Local) Preload(records []Record) error {
	msgs := make([]history.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, history.Message{ID: r.ID, Sender: r.Sender, Content: r.Content, Timestamp: r.Timestamp})
	}
	if err := l.store.SaveAll(msgs); err != nil {
		return fmt.Errorf("preload archive: %w", err)
	}
	l.log.Info("archive preloaded", "messages", len(msgs))
	return nil
}

// flag applies a revoke/delete to the archive. Ids the archive never saw are
// rejected the way a real server would reject them.
func (l *Local) flag(ctx context.Context, op, id string, mark func(string) error) error {
	if err := l.roundTrip(ctx); err != nil {
		return err
	}
	err := mark(id)
	if errors.Is(err, history.ErrNotFound) {
		return &RemoteError{Op: op, Reason: "message " + id + " not found"}
	}
	if err != nil {
		return &RemoteError{Op: op, Reason: fmt.Sprintf("%s %s: %v", op, id, err)}
	}
	return nil
}
