// Package cache provides small in-process caches.
//
// The event store keeps the last known version of recently written
// aggregates in an LRU so an append does not have to ask the event log
// first. A cached value is only a hint: the event log still checks the
// expected version on every append, and callers drop entries whenever the
// log disagrees.
//
// # Usage
//
//	versions := cache.NewLRU[string, int](cache.LRUOpts{Size: 1024})
//	versions.Put("order-1", 3)
//	v, ok := versions.Get("order-1")
package cache
