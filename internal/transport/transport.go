// Package transport defines the remote collaborators the timeline depends on
// and ships two implementations: Local, backed by the SQLite archive, and MCP,
// which calls chat tools on a Model Context Protocol server.
package transport

import (
	"context"
	"errors"
	"strings"
)

// NetworkLostMarker is the stable substring remote peers put in an error
// message when a request failed because connectivity dropped.
const NetworkLostMarker = "network disconnected"

// ErrNetworkLost reports a failure caused by lost connectivity. It is
// recoverable: the caller should queue the work and retry after reconnecting.
var ErrNetworkLost = errors.New(NetworkLostMarker)

// RemoteError is a rejection reported by the remote side.
type RemoteError struct {
	Op     string
	Reason string
}

func (e *RemoteError) Error() string {
	return e.Op + ": " + e.Reason
}

// IsNetworkLost reports whether err signals lost connectivity, either by
// wrapping ErrNetworkLost or by carrying the marker in its text.
func IsNetworkLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkLost) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), NetworkLostMarker)
}

// Record is a message as returned by the history source.
type Record struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Page is one page of history, strictly older than the requested cursor.
type Page struct {
	Messages []Record `json:"messages"`
	HasMore  bool     `json:"hasMore"`
}

// Transport is the set of remote operations the timeline consumes. Send,
// Revoke and Delete must only be called while online; callers check first.
// Send carries the client-generated message id so later revoke and delete
// calls address the same message on the remote side.
type Transport interface {
	Send(ctx context.Context, id, content string) error
	FetchHistory(ctx context.Context, before int64, pageSize int) (Page, error)
	Revoke(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
