// Package es is the persistence core of an event-sourced system: an
// append-only, per-aggregate event log with optimistic concurrency,
// snapshots, filtered stream reads, statistics and snapshot retention.
//
// # Overview
//
// A [Store] owns two storage ports: an [EventLog], which holds every
// aggregate's event sequence together with its version index, and a
// [SnapshotStore]. In-memory implementations of both ship with this package;
// durable ones live in the adapters packages (SQLite, Postgres, NATS
// JetStream, Redis).
//
//	store := es.NewStore(
//	    es.WithLog(logger),
//	    es.WithEventLog(sqliteLog),
//	    es.WithSnapshotStore(sqliteSnapshots),
//	)
//	if err := store.Start(ctx); err != nil { ... }
//	defer store.Stop()
//
// # Appending
//
// [Store.StoreEvents] appends a batch if the aggregate's current version
// equals the expected version. Versions are assigned expected+1 through
// expected+N, the batch commits completely or not at all, and appends for
// the same aggregate are serialized while different aggregates proceed in
// parallel:
//
//	res := store.StoreEvents(ctx, "order-1", []es.Event{
//	    es.MustEvent(OrderPlaced{Total: 42}),
//	}, 0)
//	if errors.Is(res.Err, es.ErrConcurrencyConflict) {
//	    // reload, re-run the command, resubmit
//	}
//
// Write-style operations (StoreEvents, CreateSnapshot, CleanupExpiredData)
// report failures in their result. Getters return an error.
//
// # Reading
//
// [Store.GetEventStream] and [Store.GetAllEventStreams] drop deleted events,
// apply version bounds, the type allow-list and the time range, then sort,
// paginate and truncate. Cross-aggregate reads are scoped to the tenant of
// the [Caller] in the context.
//
// # Snapshots
//
// Snapshots are never authoritative: the event log alone can rebuild any
// aggregate. [Store.GetSnapshot] returns the snapshot with the highest
// version, [Store.GetSnapshotAt] an exact one.
//
// # Lifecycle
//
// A store starts stopped. [Store.Start] loads statistics and launches the
// periodic statistics refresh and retention sweep; [Store.Stop] cancels them
// and waits for queued appends. Every other operation fails with
// [ErrNotStarted] while the store is stopped.
package es
