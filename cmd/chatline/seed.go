package main

import (
	"fmt"

	"github.com/comigor/chatline/internal/config"
	"github.com/comigor/chatline/internal/history"
	"github.com/comigor/chatline/internal/timeline"
	"github.com/comigor/chatline/internal/transport"
)

// seedTimeline fills the timeline with the configured backfill. Behind the
// loopback transport the archive also gets those messages and, unless it
// already holds something older, a run of history before the oldest one so
// paging back has pages to load.
func seedTimeline(tl *timeline.Manager, tr transport.Transport, store *history.Store, cfg *config.Config) error {
	records := tl.InitMessages(cfg.Timeline.InitialMessageCount, cfg.Timeline.SeedDays)

	local, ok := tr.(*transport.Local)
	if !ok {
		return nil
	}
	if cursor, ok := tl.EarliestTimestamp(); ok {
		older, _, err := store.Before(cursor, 1)
		if err != nil {
			return fmt.Errorf("check archive: %w", err)
		}
		if len(older) == 0 {
			records = append(records, timeline.HistoryBefore(cursor, cfg.History.BackfillCount, cfg.History.BackfillDays)...)
		}
	}
	return local.Preload(records)
}
