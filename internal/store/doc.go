// Package store provides the generation ledger using SQLite.
//
// Every streamed response is recorded when its placeholder message is
// created and stamped with a terminal outcome (completed, failed or
// cancelled) when the responder is disposed:
//
//	id := uuid.NewString()
//	_ = s.SaveGeneration(ctx, &store.Generation{ID: id, RoomID: room, MessageID: entry.ID, StartedAt: now})
//	...
//	_ = s.FinishGeneration(ctx, id, store.OutcomeCompleted, len(text), "", time.Now())
//
// SQLiteStore uses the pure-Go modernc.org/sqlite driver in WAL mode.
// MockStore is an in-memory implementation for tests.
package store
